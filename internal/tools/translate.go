package tools

import "regexp"

// translateRule rewrites a Unix-style command to its platform-native
// equivalent. Rules are evaluated top to bottom with first-match-wins
// semantics; the table is data, not scattered conditionals, so the
// priority order is visible in one place.
type translateRule struct {
	pattern *regexp.Regexp
	rewrite string
}

// windowsRules translate common POSIX commands for hosts without a
// POSIX shell. Specific forms sit above general ones so, e.g.,
// `rm -rf dir` matches before the bare `rm` rule. Commands with no
// Windows equivalent rewrite to an explanatory stub; anything unmatched
// passes through untranslated as a best effort.
var windowsRules = []translateRule{
	{regexp.MustCompile(`^ls\s+-la?\s*(.*)$`), "dir /a $1"},
	{regexp.MustCompile(`^ls\s*(.*)$`), "dir $1"},
	{regexp.MustCompile(`^rm\s+-rf?\s+(.+)$`), "rmdir /s /q $1"},
	{regexp.MustCompile(`^rm\s+(.+)$`), "del $1"},
	{regexp.MustCompile(`^cp\s+-r\s+(\S+)\s+(\S+)\s*$`), "xcopy /e /i $1 $2"},
	{regexp.MustCompile(`^cp\s+(\S+)\s+(\S+)\s*$`), "copy $1 $2"},
	{regexp.MustCompile(`^mv\s+(\S+)\s+(\S+)\s*$`), "move $1 $2"},
	{regexp.MustCompile(`^cat\s+(.+)$`), "type $1"},
	{regexp.MustCompile(`^grep\s+(.+)$`), "findstr $1"},
	{regexp.MustCompile(`^pwd\s*$`), "cd"},
	{regexp.MustCompile(`^clear\s*$`), "cls"},
	{regexp.MustCompile(`^which\s+(.+)$`), "where $1"},
	{regexp.MustCompile(`^mkdir\s+-p\s+(.+)$`), "mkdir $1"},
	{regexp.MustCompile(`^touch\s+(.+)$`), "type nul >> $1"},
	{regexp.MustCompile(`^head\s+-n\s*(\d+)\s+(.+)$`), `powershell -Command "Get-Content $2 -Head $1"`},
	{regexp.MustCompile(`^tail\s+-n\s*(\d+)\s+(.+)$`), `powershell -Command "Get-Content $2 -Tail $1"`},
	{regexp.MustCompile(`^(chmod|chown|ln)\b.*$`), "echo $1 has no Windows equivalent; skipped"},
}

// translateCommand rewrites command for the given GOOS. Platforms with
// a POSIX shell pass through unchanged.
func translateCommand(command, goos string) string {
	if goos != "windows" {
		return command
	}
	for _, rule := range windowsRules {
		if rule.pattern.MatchString(command) {
			return rule.pattern.ReplaceAllString(command, rule.rewrite)
		}
	}
	return command
}
