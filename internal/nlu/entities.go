package nlu

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// AmountMode 区分用户表达数量的三种方式。
type AmountMode string

const (
	// AmountAll 表示全部可用余额。
	AmountAll AmountMode = "all"
	// AmountPercent 表示余额的百分比。
	AmountPercent AmountMode = "percent"
	// AmountExact 表示确切的十进制数量。
	AmountExact AmountMode = "exact"
)

// Amount 是数量槽位的抽取结果。
type Amount struct {
	Mode  AmountMode `json:"mode"`
	Value float64    `json:"value,omitempty"`
}

// knownSymbols 是可直接识别的代币符号白名单。
var knownSymbols = map[string]struct{}{
	"ETH": {}, "WETH": {}, "USDC": {}, "USDT": {}, "DAI": {},
	"WBTC": {}, "LINK": {}, "UNI": {}, "AAVE": {}, "MATIC": {},
}

// symbolSynonyms 将常见全称映射为标准符号，多词同义词优先整体匹配。
var symbolSynonyms = map[string]string{
	"ethereum":  "ETH",
	"ether":     "ETH",
	"bitcoin":   "WBTC",
	"usd coin":  "USDC",
	"usdcoin":   "USDC",
	"tether":    "USDT",
	"chainlink": "LINK",
	"uniswap":   "UNI",
	"polygon":   "MATIC",
}

// knownProtocols 是支持的借贷协议白名单。
var knownProtocols = []string{"aave", "compound", "spark", "venus"}

var (
	addressPattern = regexp.MustCompile(`0x[0-9a-fA-F]{40}\b`)
	numberPattern  = regexp.MustCompile(`\d+(?:\.\d+)?`)
	percentPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(?:%|percent|pct)`)
	wordPattern    = regexp.MustCompile(`[a-zA-Z]+`)

	// pairPatterns 按顺序决定卖出/买入方向，首个命中的模式生效。
	pairPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bsell\s+(?:my\s+|all\s+(?:my\s+)?|some\s+)?([a-zA-Z]+)\s+(?:for|to|into)\s+([a-zA-Z]+)`),
		regexp.MustCompile(`(?i)\bswap\s+(?:my\s+)?([a-zA-Z]+)\s+(?:for|to|into)\s+([a-zA-Z]+)`),
		regexp.MustCompile(`(?i)\btrade\s+(?:my\s+)?([a-zA-Z]+)\s+(?:for|to|into)\s+([a-zA-Z]+)`),
		regexp.MustCompile(`(?i)\bconvert\s+(?:my\s+)?([a-zA-Z]+)\s+(?:to|into)\s+([a-zA-Z]+)`),
		regexp.MustCompile(`(?i)\bexchange\s+(?:my\s+)?([a-zA-Z]+)\s+(?:for|to|into)\s+([a-zA-Z]+)`),
	}
)

// ResolveSymbol 将一段文字规范化为白名单中的代币符号。
func ResolveSymbol(word string) (string, bool) {
	trimmed := strings.TrimSpace(word)
	if trimmed == "" {
		return "", false
	}
	upper := strings.ToUpper(trimmed)
	if _, ok := knownSymbols[upper]; ok {
		return upper, true
	}
	if symbol, ok := symbolSynonyms[strings.ToLower(trimmed)]; ok {
		return symbol, true
	}
	return "", false
}

// ExtractToken 从文本中提取第一个可识别的代币符号。
func ExtractToken(text string) (string, bool) {
	tokens := ExtractTokens(text)
	if len(tokens) == 0 {
		return "", false
	}
	return tokens[0], true
}

// ExtractTokens 按出现顺序提取文本中的全部代币符号（去重）。
func ExtractTokens(text string) []string {
	lower := strings.ToLower(text)
	seen := make(map[string]struct{})
	var found []string

	appendSymbol := func(symbol string) {
		if _, ok := seen[symbol]; ok {
			return
		}
		seen[symbol] = struct{}{}
		found = append(found, symbol)
	}

	// 多词同义词（如 "usd coin"）无法按单词匹配，先整体查找。
	type hit struct {
		index  int
		symbol string
	}
	var hits []hit
	for synonym, symbol := range symbolSynonyms {
		if !strings.Contains(synonym, " ") {
			continue
		}
		if idx := strings.Index(lower, synonym); idx >= 0 {
			hits = append(hits, hit{index: idx, symbol: symbol})
		}
	}
	for _, loc := range wordPattern.FindAllStringIndex(text, -1) {
		word := text[loc[0]:loc[1]]
		if symbol, ok := ResolveSymbol(word); ok {
			hits = append(hits, hit{index: loc[0], symbol: symbol})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].index < hits[j].index })
	for _, h := range hits {
		appendSymbol(h.symbol)
	}
	return found
}

// ExtractTokenPair 针对双代币句式提取卖出与买入符号。
// 无句式命中时退回为"先出现者先卖出"。
func ExtractTokenPair(text string) (sell, receive string, ok bool) {
	for _, pattern := range pairPatterns {
		match := pattern.FindStringSubmatch(text)
		if match == nil {
			continue
		}
		sellSym, sellOK := ResolveSymbol(match[1])
		receiveSym, receiveOK := ResolveSymbol(match[2])
		if sellOK && receiveOK {
			return sellSym, receiveSym, true
		}
		if sellOK {
			return sellSym, "", true
		}
	}

	tokens := ExtractTokens(text)
	switch len(tokens) {
	case 0:
		return "", "", false
	case 1:
		return tokens[0], "", true
	default:
		return tokens[0], tokens[1], true
	}
}

// ExtractAmount 识别数量表达：all、半仓/百分比、精确数字。
// 含多个裸数字的歧义文本不做提取。
func ExtractAmount(text string) (Amount, bool) {
	lower := strings.ToLower(text)

	for _, keyword := range []string{"all", "everything", "entire", "max"} {
		if containsWord(lower, keyword) {
			return Amount{Mode: AmountAll}, true
		}
	}
	if containsWord(lower, "half") {
		return Amount{Mode: AmountPercent, Value: 50}, true
	}

	if match := percentPattern.FindStringSubmatch(lower); match != nil {
		value, ok := parseNumber(match[1])
		if ok && value > 0 && value <= 100 {
			return Amount{Mode: AmountPercent, Value: value}, true
		}
		return Amount{}, false
	}

	numbers := numberPattern.FindAllString(lower, -1)
	if len(numbers) != 1 {
		return Amount{}, false
	}
	value, ok := parseNumber(numbers[0])
	if !ok || value <= 0 {
		return Amount{}, false
	}
	return Amount{Mode: AmountExact, Value: value}, true
}

// ExtractPercent 提取 (0,100] 区间内的第一个百分比数字。
func ExtractPercent(text string) (float64, bool) {
	lower := strings.ToLower(text)
	if match := percentPattern.FindStringSubmatch(lower); match != nil {
		if value, ok := parseNumber(match[1]); ok && value > 0 && value <= 100 {
			return value, true
		}
		return 0, false
	}
	if raw := numberPattern.FindString(lower); raw != "" {
		if value, ok := parseNumber(raw); ok && value > 0 && value <= 100 {
			return value, true
		}
	}
	return 0, false
}

// ExtractHealthFactor 提取健康因子数值，超出 [1.0, 10.0] 的匹配直接丢弃。
func ExtractHealthFactor(text string) (float64, bool) {
	raw := numberPattern.FindString(text)
	if raw == "" {
		return 0, false
	}
	value, ok := parseNumber(raw)
	if !ok || value < 1.0 || value > 10.0 {
		return 0, false
	}
	return value, true
}

// ExtractAddress 提取定长十六进制地址。
func ExtractAddress(text string) (string, bool) {
	match := addressPattern.FindString(text)
	if match == "" {
		return "", false
	}
	return match, true
}

// ExtractNetwork 在已知网络列表中查找文本提到的网络。
func ExtractNetwork(text string, known []string) (string, bool) {
	lower := strings.ToLower(text)
	for _, network := range known {
		if containsWord(lower, strings.ToLower(network)) {
			return strings.ToLower(network), true
		}
	}
	return "", false
}

// ExtractProtocol 在借贷协议白名单中查找文本提到的协议。
func ExtractProtocol(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, protocol := range knownProtocols {
		if containsWord(lower, protocol) {
			return protocol, true
		}
	}
	return "", false
}

func containsWord(lower, word string) bool {
	idx := 0
	for {
		pos := strings.Index(lower[idx:], word)
		if pos < 0 {
			return false
		}
		start := idx + pos
		end := start + len(word)
		beforeOK := start == 0 || !isWordChar(lower[start-1])
		afterOK := end == len(lower) || !isWordChar(lower[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordChar(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func parseNumber(raw string) (float64, bool) {
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return value, true
}
