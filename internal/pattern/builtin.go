package pattern

import "github.com/mamori-ai/mamori/internal/model"

// builtinDefs are the compiled-in detection rules, evaluated before any pack
// patterns. Order within a category is load order and must stay stable: the
// analyzer's determinism guarantee depends on it.
var builtinDefs = []rawPattern{
	// --- Prompt injection ---
	{
		Name:        "instruction_override",
		Category:    model.CategoryPromptInjection,
		Severity:    model.SeverityCritical,
		Confidence:  0.9,
		Regex:       `(?i)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions|prompts|directions)`,
		Remediation: "Strip or refuse instruction-override language before it reaches the model.",
	},
	{
		Name:        "system_prompt_exfiltration",
		Category:    model.CategoryPromptInjection,
		Severity:    model.SeverityHigh,
		Confidence:  0.85,
		Regex:       `(?i)(reveal|show|print|repeat|output)\s+(your\s+)?(system\s+prompt|initial\s+instructions|hidden\s+rules)`,
		Remediation: "Never echo system prompt contents; respond with a refusal.",
	},
	{
		Name:        "role_reassignment",
		Category:    model.CategoryPromptInjection,
		Severity:    model.SeverityHigh,
		Confidence:  0.75,
		Regex:       `(?i)you\s+are\s+now\s+(?:a|an|in)\s+\w+|pretend\s+(?:to\s+be|you\s+are)|act\s+as\s+if\s+you\s+have\s+no\s+(?:rules|restrictions)`,
		Remediation: "Pin the system role; reject attempts to reassign it mid-conversation.",
	},
	{
		Name:        "jailbreak_dan",
		Category:    model.CategoryPromptInjection,
		Severity:    model.SeverityHigh,
		Confidence:  0.8,
		Regex:       `(?i)\b(DAN\s+mode|do\s+anything\s+now|developer\s+mode\s+enabled|jailbreak)\b`,
		Remediation: "Block known jailbreak framings at the input boundary.",
	},

	// --- Insecure output handling ---
	{
		Name:        "script_tag_output",
		Category:    model.CategoryInsecureOutput,
		Severity:    model.SeverityHigh,
		Confidence:  0.8,
		Regex:       `(?i)<script[\s>]|javascript:\s*\w`,
		Remediation: "HTML-encode model output before rendering it in a browser context.",
	},
	{
		Name:        "shell_command_output",
		Category:    model.CategoryInsecureOutput,
		Severity:    model.SeverityMedium,
		Confidence:  0.6,
		Regex:       `(?i)\b(rm\s+-rf\s+/|curl\s+[^|]+\|\s*(ba)?sh|chmod\s+\+x)\b`,
		Remediation: "Never execute model output directly; require human review for shell content.",
	},

	// --- Data exfiltration ---
	{
		Name:        "markdown_image_beacon",
		Category:    model.CategoryDataExfiltration,
		Severity:    model.SeverityHigh,
		Confidence:  0.85,
		Regex:       `!\[[^\]]*\]\(https?://[^)]+\?[^)]*\)`,
		Remediation: "Strip remote-image markdown with query parameters from model output.",
	},
	{
		Name:        "send_data_instruction",
		Category:    model.CategoryDataExfiltration,
		Severity:    model.SeverityMedium,
		Confidence:  0.7,
		Regex:       `(?i)(send|post|upload|forward)\s+(this|the|all)\s+(conversation|data|history|context)\s+to\s+`,
		Remediation: "Flag instructions that direct conversation contents to external endpoints.",
	},

	// --- Model denial of service ---
	{
		Name:        "repetition_bomb",
		Category:    model.CategoryModelDoS,
		Severity:    model.SeverityMedium,
		Confidence:  0.65,
		Regex:       `(?i)repeat\s+(the\s+)?(word|phrase|letter)\s+.{1,40}\s+(\d{4,}|forever|infinitely)\s*(times)?`,
		Remediation: "Cap output length and reject unbounded repetition requests.",
	},

	// --- Sensitive information disclosure ---
	{
		Name:        "api_key_material",
		Category:    model.CategorySensitiveInfo,
		Severity:    model.SeverityCritical,
		Confidence:  0.9,
		Regex:       `\b(sk-[A-Za-z0-9]{20,}|AKIA[0-9A-Z]{16}|ghp_[A-Za-z0-9]{36})\b`,
		Remediation: "Redact credential material and rotate the exposed key.",
	},
	{
		Name:        "private_key_block",
		Category:    model.CategorySensitiveInfo,
		Severity:    model.SeverityCritical,
		Confidence:  0.95,
		Regex:       `-----BEGIN\s+(RSA|EC|OPENSSH|PGP)?\s*PRIVATE\s+KEY-----`,
		Remediation: "Redact the key block and rotate the exposed key pair.",
	},
	{
		Name:        "ssn_pattern",
		Category:    model.CategorySensitiveInfo,
		Severity:    model.SeverityHigh,
		Confidence:  0.6,
		Regex:       `\b\d{3}-\d{2}-\d{4}\b`,
		Remediation: "Redact social security numbers before export.",
	},
}

// Builtin returns the compiled builtin pattern set grouped by category.
// Compilation happens once at package init; a bad builtin is a programming
// error and panics there.
func Builtin() map[model.Category][]Pattern {
	out := make(map[model.Category][]Pattern, len(builtinByCategory))
	for c, ps := range builtinByCategory {
		out[c] = append([]Pattern(nil), ps...)
	}
	return out
}

var builtinByCategory map[model.Category][]Pattern

func init() {
	builtinByCategory = make(map[model.Category][]Pattern)
	for _, def := range builtinDefs {
		p, err := compile(def.Name, def.Category, def.Severity, def.Confidence, def.Regex, def.Remediation)
		if err != nil {
			panic(err)
		}
		builtinByCategory[p.Category] = append(builtinByCategory[p.Category], p)
	}
}
