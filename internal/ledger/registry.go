package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ClientFactory 根据网络定义创建具体的客户端实现。
// 由 cmd 层注入，避免 registry 直接依赖某个链实现。
type ClientFactory func(ctx context.Context, name string, def NetworkDefinition) (Client, error)

// Registry manages ledger clients and token catalogs keyed by network name.
type Registry struct {
	defaultNetwork string
	clients        map[string]Client
	catalogs       map[string]map[string]Token
}

// NewRegistry loads network definitions and instantiates concrete clients.
func NewRegistry(ctx context.Context, path, defaultNetwork string, factory ClientFactory) (*Registry, error) {
	defs, err := LoadNetworkDefinitions(path)
	if err != nil {
		return nil, err
	}
	if factory == nil {
		return nil, errors.New("未提供账本客户端工厂")
	}

	clients := make(map[string]Client, len(defs.Networks))
	catalogs := make(map[string]map[string]Token, len(defs.Networks))
	for name, def := range defs.Networks {
		networkType := strings.ToLower(strings.TrimSpace(def.Type))
		if networkType != "" && networkType != "evm" {
			return nil, fmt.Errorf("网络 %s 使用了不支持的类型 %s", name, def.Type)
		}
		client, err := factory(ctx, name, def)
		if err != nil {
			return nil, fmt.Errorf("初始化网络 %s 失败: %w", name, err)
		}
		key := strings.ToLower(name)
		clients[key] = client
		catalogs[key] = def.Catalog()
	}

	defaultNetwork = strings.ToLower(strings.TrimSpace(defaultNetwork))
	if defaultNetwork == "" {
		names := make([]string, 0, len(clients))
		for name := range clients {
			names = append(names, name)
		}
		sort.Strings(names)
		defaultNetwork = names[0]
	}
	if _, ok := clients[defaultNetwork]; !ok {
		return nil, fmt.Errorf("默认网络 %s 未在配置中找到", defaultNetwork)
	}

	return &Registry{
		defaultNetwork: defaultNetwork,
		clients:        clients,
		catalogs:       catalogs,
	}, nil
}

// NewStaticRegistry 以注入的客户端构建注册表，主要用于测试。
func NewStaticRegistry(defaultNetwork string, clients map[string]Client, catalogs map[string]map[string]Token) *Registry {
	normalized := make(map[string]Client, len(clients))
	for name, client := range clients {
		normalized[strings.ToLower(name)] = client
	}
	normalizedCatalogs := make(map[string]map[string]Token, len(catalogs))
	for name, catalog := range catalogs {
		normalizedCatalogs[strings.ToLower(name)] = catalog
	}
	return &Registry{
		defaultNetwork: strings.ToLower(defaultNetwork),
		clients:        normalized,
		catalogs:       normalizedCatalogs,
	}
}

// Client returns the ledger client for the given network.
func (r *Registry) Client(network string) (Client, bool) {
	if r == nil {
		return nil, false
	}
	client, ok := r.clients[strings.ToLower(strings.TrimSpace(network))]
	return client, ok
}

// ResolveToken looks up a token by symbol in the network's catalog.
func (r *Registry) ResolveToken(network, symbol string) (Token, bool) {
	if r == nil {
		return Token{}, false
	}
	catalog, ok := r.catalogs[strings.ToLower(strings.TrimSpace(network))]
	if !ok {
		return Token{}, false
	}
	token, ok := catalog[strings.ToUpper(strings.TrimSpace(symbol))]
	return token, ok
}

// Networks returns the sorted list of registered network names.
func (r *Registry) Networks() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultNetwork returns the configured default network name.
func (r *Registry) DefaultNetwork() string {
	if r == nil {
		return ""
	}
	return r.defaultNetwork
}

// Close releases all clients managed by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	for name, client := range r.clients {
		if client != nil {
			client.Close()
		}
		delete(r.clients, name)
	}
}

var _ Resolver = (*Registry)(nil)
