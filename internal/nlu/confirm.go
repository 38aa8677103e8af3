package nlu

import "strings"

// confirmWords 是单词级的肯定信号。
var confirmWords = map[string]struct{}{
	"yes": {}, "yeah": {}, "yep": {}, "yup": {}, "sure": {},
	"ok": {}, "okay": {}, "confirm": {}, "confirmed": {}, "correct": {},
	"proceed": {}, "absolutely": {}, "definitely": {},
}

// confirmPhrases 是词组级的肯定信号。
var confirmPhrases = []string{
	"go ahead", "sounds good", "looks good", "do it", "deploy it",
	"that's right", "that is right", "let's do it",
}

// rejectWords 是单词级的否定信号。
var rejectWords = map[string]struct{}{
	"no": {}, "nope": {}, "nah": {}, "stop": {}, "abort": {},
	"cancel": {}, "reject": {}, "negative": {},
}

// rejectPhrases 是词组级的否定信号。
var rejectPhrases = []string{
	"never mind", "nevermind", "don't", "do not", "not now",
	"back out", "changed my mind", "forget it",
}

// cancelPhrases 是显式放弃整个任务的信号，独立于普通否定。
var cancelPhrases = []string{
	"cancel", "start over", "start again", "reset", "clear conversation",
	"forget it", "abort",
}

// DetectConfirmation 判断输入是否为肯定回答。
func DetectConfirmation(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return false
	}
	for _, word := range splitWords(lower) {
		if _, ok := confirmWords[word]; ok {
			return true
		}
	}
	for _, phrase := range confirmPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// DetectRejection 判断输入是否为否定回答。
// 命中否定关键字后还要复查任务创建话术："stop" 出现在
// "create a stop order" 里时不能被当成拒绝。
func DetectRejection(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return false
	}

	matched := false
	for _, word := range splitWords(lower) {
		if _, ok := rejectWords[word]; ok {
			matched = true
			break
		}
	}
	if !matched {
		for _, phrase := range rejectPhrases {
			if strings.Contains(lower, phrase) {
				matched = true
				break
			}
		}
	}
	if !matched {
		return false
	}

	// 二次校验：同一句话里还出现任务创建话术时放行。
	if MatchesTaskCreation(lower) {
		return false
	}
	return true
}

// DetectCancel 判断输入是否为显式放弃当前任务。
// 与 DetectRejection 一样受任务创建话术保护。
func DetectCancel(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return false
	}
	matched := false
	for _, phrase := range cancelPhrases {
		if containsWord(lower, phrase) || strings.Contains(lower, phrase) {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}
	if MatchesTaskCreation(lower) {
		return false
	}
	return true
}

func splitWords(lower string) []string {
	return wordPattern.FindAllString(lower, -1)
}
