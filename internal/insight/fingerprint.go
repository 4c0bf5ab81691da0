package insight

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
)

// fingerprintWords 参与指纹计算的有效词数量
const fingerprintWords = 5

// CategoryForStep 流水线步骤对应的洞察类别
func CategoryForStep(step string) string {
	switch step {
	case "analyzing":
		return "job_analysis"
	case "rewriting":
		return "resume_rewrite"
	case "validating":
		return "validation"
	case "polishing":
		return "polish"
	default:
		return step
	}
}

var stopWords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`the and for are but not you your with this that from have has had was were
		will would can could should its it's into onto over under than then them they their there these those
		our out about also more most very just been being which while when what where who whom why how all any
		each both few other some such only own same too per via use used using make makes made`) {
		stopWords[w] = struct{}{}
	}
}

// Fingerprint 洞察文本的近似指纹
//
// 小写化后按非字母数字切分，去掉停用词和短于 3 个字符的词，
// 取前 5 个有效词排序后与类别拼接，再做 xxhash。
// 措辞相近（前几个关键词相同）的洞察得到相同指纹。
func Fingerprint(category, message string) uint64 {
	words := strings.FieldsFunc(strings.ToLower(message), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	significant := make([]string, 0, fingerprintWords)
	for _, w := range words {
		if utf8.RuneCountInString(w) < 3 {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		significant = append(significant, w)
		if len(significant) == fingerprintWords {
			break
		}
	}
	sort.Strings(significant)
	return xxhash.Sum64String(category + "|" + strings.Join(significant, " "))
}
