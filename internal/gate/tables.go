package gate

import "regexp"

// alwaysDangerous matches commands that are blocked in every stage unless the
// caller explicitly overrides. Destruction of the workspace or git history is
// never an acceptable side effect of a check or an agent suggestion.
var alwaysDangerous = []*regexp.Regexp{
	regexp.MustCompile(`rm\s+-rf\s+`),
	regexp.MustCompile(`git\s+reset\s+--hard`),
	regexp.MustCompile(`git\s+clean\s+-fdx`),
}

// forbiddenOperators are rejected anywhere in a raw pre-delivery command.
// Pre-delivery bash gets no redirection, chaining, or substitution at all.
var forbiddenOperators = []*regexp.Regexp{
	regexp.MustCompile(`>`),
	regexp.MustCompile(`2>`),
	regexp.MustCompile(`&>`),
	regexp.MustCompile(`;`),
	regexp.MustCompile(`&&`),
	regexp.MustCompile(`\|\|`),
	regexp.MustCompile("`"),
	regexp.MustCompile(`\$\(`),
	regexp.MustCompile(`\n`),
}

// safeBashPatterns is the finite read-only command shape set allowed in
// pre-delivery stages. Each pattern must match an entire pipe segment.
var safeBashPatterns = compileFull([]string{
	`git\s+(status|log|diff|show|branch|remote|rev-parse)(\s+.+)?`,
	`ls(\s+.+)?`,
	`cat\s+.+`,
	`head(\s+.+)?`,
	`tail(\s+.+)?`,
	`find\s+.+`,
	`grep\s+.+`,
	`rg\s+.+`,
	`pwd`,
	`which\s+.+`,
	`echo\s+\$.+`,
	`go\s+(version|env)(\s+.+)?`,
	`python\s+--version`,
	`node\s+--version`,
	`npm\s+(list|ls|--version)(\s+.+)?`,
	`pip\s+(list|show|--version)(\s+.+)?`,
	`wc(\s+.+)?`,
	`sort(\s+.+)?`,
	`uniq(\s+.+)?`,
})

// mutatingCommands are rejected in pre-delivery even when they would slip
// past the safe set (checked first, per segment).
var mutatingCommands = compileFull([]string{
	`rm\s+.+`,
	`mv\s+.+`,
	`touch\s+.+`,
	`mkdir\s+.+`,
	`chmod\s+.+`,
	`chown\s+.+`,
	`git\s+(add|commit|push|checkout|reset|rebase)(\s+.+)?`,
})

// researchWhitelist is the fixed set of leading tokens a research pipe
// segment may start with. Research mode never earns write capability.
var researchWhitelist = map[string]bool{
	"ls":   true,
	"cat":  true,
	"head": true,
	"tail": true,
	"find": true,
	"wc":   true,
	"sort": true,
	"uniq": true,
	"grep": true,
	"tree": true,
	"file": true,
	"stat": true,
	"du":   true,
	"df":   true,
	"curl": true,
	"wget": true,
	"jq":   true,
}

// researchGitSubcommands are the read-only git verbs allowed in research mode.
var researchGitSubcommands = map[string]bool{
	"status": true,
	"log":    true,
	"diff":   true,
	"show":   true,
	"branch": true,
	"remote": true,
	"tag":    true,
}

// researchForbiddenTokens invalidate a research command outright.
var researchForbiddenTokens = map[string]bool{
	";": true, "&&": true, "||": true,
	">": true, ">>": true, "<": true, "<<": true,
	"2>": true, "&>": true,
	"$(": true, "`": true, "<(": true, ">(": true,
	"\n": true,
}

func compileFull(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(`^(?:`+p+`)$`))
	}
	return out
}
