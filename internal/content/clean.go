package content

import (
	"regexp"
	"strings"
)

var (
	// sensitiveLine matches lines that carry codes or credentials. Such lines
	// are always kept, whatever else they look like.
	sensitiveLine = regexp.MustCompile(`(?i)\b(?:verification[\s_-]*code|code|password|auth|token|key)\b|验证码|校验码|动态码|授权码|密码|口令|令牌|密钥|认证`)

	// separatorLine matches decorative rules that open a signature block.
	separatorLine = regexp.MustCompile(`^(?:\|+|-+)$`)

	emailPattern = `<?[A-Za-z0-9._%+\-]+@[A-Za-z0-9\-]+(?:\.[A-Za-z0-9\-]+)+>?`

	bareEmailLine    = regexp.MustCompile(`^` + emailPattern + `$`)
	labeledEmailLine = regexp.MustCompile(`(?i)^(?:from|e-?mail|contact|mail)\s*[:：]\s*` + emailPattern + `$`)
)

// Clean reduces a plain-text body to its core message. Lines are scanned top
// to bottom and the scan stops at the first signature boundary: a decorative
// separator, a bare email address or a From:/Email:/Contact: line holding only
// an address. Lines mentioning codes, passwords, tokens or keys are kept even
// when they look like a boundary. Blank lines are dropped.
//
// The result is deterministic and Clean(Clean(s)) == Clean(s).
func Clean(text string) string {
	var core []string

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		if sensitiveLine.MatchString(line) {
			core = append(core, line)
			continue
		}

		if isSignatureBoundary(line) {
			break
		}

		core = append(core, line)
	}

	return strings.TrimSpace(strings.Join(core, "\n"))
}

func isSignatureBoundary(line string) bool {
	return separatorLine.MatchString(line) ||
		bareEmailLine.MatchString(line) ||
		labeledEmailLine.MatchString(line)
}
