package safety

import "regexp"

// Reason names why a message was refused.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonPromptInjection   Reason = "prompt_injection"
	ReasonSecretAccess      Reason = "secret_access"
	ReasonDataProbe         Reason = "data_probe"
	ReasonCodeExecution     Reason = "code_execution"
	ReasonSafetyBypass      Reason = "safety_bypass"
	ReasonModerationFlagged Reason = "moderation_flagged"
	ReasonSecurityJudgement Reason = "security_judgement"
	ReasonIntentUnsafe      Reason = "intent_unsafe"
)

type ruleGroup struct {
	reason   Reason
	patterns []*regexp.Regexp
}

func compile(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, e := range exprs {
		out = append(out, regexp.MustCompile(`(?i)`+e))
	}
	return out
}

// groups are checked in order; the first hit decides the reason.
var groups = []ruleGroup{
	{reason: ReasonPromptInjection, patterns: compile(
		`ignore\s+(?:all\s+)?(?:previous|prior|above)\s+instructions`,
		`disregard\s+(?:earlier|previous|all)\s+(?:guidelines|instructions)`,
		`you\s+are\s+no\s+longer\s+bound`,
		`pretend\s+to\s+be\s+(?:the\s+)?system`,
		`reveal\s+(?:your\s+|the\s+)?system\s+prompt`,
		`show\s+me\s+your\s+prompt`,
		`what\s+is\s+in\s+your\s+system\s+instructions`,
		`\bas\s+chatgpt\b`,
		`पिछले\s+निर्देश(?:ों)?\s+(?:को\s+)?(?:भूल|अनदेखा)`,
	)},
	{reason: ReasonSafetyBypass, patterns: compile(
		`bypass\s+(?:your\s+|the\s+|all\s+)?(?:safety|rules|filters?|restrictions|guardrails)`,
		`ignore\s+(?:your\s+|the\s+|all\s+)?(?:safety|rules|filters?|restrictions|guardrails)`,
		`(?:turn|switch)\s+off\s+(?:your\s+|the\s+)?(?:safety|filters?)`,
		`without\s+(?:any\s+)?(?:safety\s+)?(?:restrictions|filters|rules)`,
		`\bjailbreak`,
		`developer\s+mode`,
		`\bdo\s+anything\s+now\b`,
		`सुरक्षा\s+नियम(?:ों)?\s+(?:को\s+)?(?:तोड़|अनदेखा|बायपास)`,
	)},
	{reason: ReasonSecretAccess, patterns: compile(
		`\.env\b`,
		`openai_api_key`,
		`openai\.api_key`,
		`\bapi[\s_-]?key\b`,
		`access\s*token`,
		`authorization:\s*bearer`,
		`\bsecret\s+key\b`,
	)},
	{reason: ReasonDataProbe, patterns: compile(
		`\bselect\s+[\w\*,\s]+\s+from\s+\w+`,
		`\bdrop\s+table\b`,
		`\btruncate\s+table\b`,
		`\bunion\s+select\b`,
		`\binsert\s+into\s+\w+`,
		`\bdelete\s+from\s+\w+`,
		`\bshow\s+tables\b`,
		`\blist\s+(?:all\s+)?files\b`,
		`\bread\s+(?:the\s+)?file\b`,
		`\b(?:dump|export)\s+(?:the\s+)?(?:database|embeddings|patient\s+records)\b`,
	)},
	{reason: ReasonCodeExecution, patterns: compile(
		`\bimport\s+(?:os|subprocess)\b`,
		`subprocess\.run`,
		`os\.system`,
		`\beval\(`,
		`\bexec\(`,
		`__import__\(`,
		`\b(?:curl|wget)\s+https?`,
		`\brm\s+-rf\b`,
	)},
}

// Match runs the local heuristic groups against text. It never blocks.
func Match(text string) (Reason, bool) {
	for _, g := range groups {
		for _, p := range g.patterns {
			if p.MatchString(text) {
				return g.reason, true
			}
		}
	}
	return ReasonNone, false
}
