package ledger

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// NetworkDefinitions models the structure of configs/networks.yaml.
type NetworkDefinitions struct {
	Networks map[string]NetworkDefinition `yaml:"networks"`
}

// NetworkDefinition describes one EVM network and its token catalog.
type NetworkDefinition struct {
	Type           string                     `yaml:"type"`
	RPCURL         string                     `yaml:"rpc_url"`
	FactoryAddress string                     `yaml:"factory_address"`
	Description    string                     `yaml:"description"`
	Tokens         map[string]TokenDefinition `yaml:"tokens"`
}

// TokenDefinition describes a catalog entry for a known token.
type TokenDefinition struct {
	Address  string `yaml:"address"`
	Decimals uint8  `yaml:"decimals"`
	Native   bool   `yaml:"native"`
}

// LoadNetworkDefinitions parses the YAML network catalog from disk.
func LoadNetworkDefinitions(path string) (*NetworkDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("网络配置文件路径不能为空")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取网络配置失败: %w", err)
	}
	var defs NetworkDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return nil, fmt.Errorf("解析网络配置失败: %w", err)
	}
	if len(defs.Networks) == 0 {
		return nil, fmt.Errorf("网络配置 %s 中没有定义任何网络", path)
	}
	return &defs, nil
}

// Catalog converts a definition's token table into ledger tokens keyed by
// upper-case symbol.
func (d NetworkDefinition) Catalog() map[string]Token {
	catalog := make(map[string]Token, len(d.Tokens))
	for symbol, def := range d.Tokens {
		upper := strings.ToUpper(strings.TrimSpace(symbol))
		if upper == "" {
			continue
		}
		decimals := def.Decimals
		if decimals == 0 {
			decimals = 18
		}
		catalog[upper] = Token{
			Symbol:   upper,
			Address:  def.Address,
			Decimals: decimals,
			Native:   def.Native,
		}
	}
	return catalog
}
