package safety

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/sandevgo/percept/internal/core"
)

const (
	CategoryExfiltration     = "exfiltration"
	CategoryCredentialAccess = "credential_access"
	CategoryNetworkChange    = "network_change"
	CategoryDestructive      = "destructive_command"
	CategoryInfoLeak         = "info_leak"

	ReasonUnknownRecipient = "unknown_recipient"
	ReasonUnknownStore     = "unknown_store"
)

type matcher func(text string) bool

func re(pattern string) matcher {
	return regexp.MustCompile(`(?i)` + pattern).MatchString
}

type rule struct {
	category string
	match    matcher
}

var (
	reFetchURL = regexp.MustCompile(`(?i)\b(?:curl|wget|fetch|httpie|http)\b.*?\bhttps?://(\S+)`)
	rePrivate  = regexp.MustCompile(`^(?:localhost|127\.0\.0\.1|192\.168\.|10\.|172\.(?:1[6-9]|2\d|3[01])\.)`)
)

// fetchExternal matches a fetch tool pointed at a non-local URL.
func fetchExternal(text string) bool {
	for _, m := range reFetchURL.FindAllStringSubmatch(text, -1) {
		if !rePrivate.MatchString(strings.ToLower(m[1])) {
			return true
		}
	}
	return false
}

// Rules are checked in order, the first hit decides the category.
var rules = []rule{
	{CategoryExfiltration, fetchExternal},
	{CategoryExfiltration, re(`\bsend\b.*\b(credentials?|api.?keys?|secrets?|tokens?|passwords?)\b.*\b(to|via|through)\b`)},
	{CategoryExfiltration, re(`\b(upload|post|push|exfiltrate)\b.*\b(credentials?|api.?keys?|secrets?|env)\b`)},
	{CategoryExfiltration, re(`\b(curl|wget|fetch)\b.*\b(webhook|ngrok|requestbin|pipedream|burp)`)},

	{CategoryCredentialAccess, re(`\bread\b.*(\.env|\.aws|\bcredentials|\bapi.?key|\bsecret|\btoken|\bpassword)\b`)},
	{CategoryCredentialAccess, re(`\bcat\b.*(\.env|/etc/passwd|/etc/shadow|\.ssh/|id_rsa|\.aws/credentials)`)},
	{CategoryCredentialAccess, re(`\bprint\b.*\b(env|environ|os\.environ|api.?key|secret)`)},
	{CategoryCredentialAccess, re(`\b(show|display|list|dump|echo)\b.*\$\w*(PASSWORD|SECRET|KEY|TOKEN)`)},
	{CategoryCredentialAccess, re(`\benv\b.*\bvars?\b.*\b(send|email|text|post)\b`)},
	{CategoryCredentialAccess, re(`\b(api.?key|secret.?key|access.?token|private.?key)\b.*\b(send|email|text|post|curl)\b`)},
	{CategoryCredentialAccess, re(`\b(send|email|text|post)\b.*\b(api.?keys?|credentials?|secrets?)\b`)},
	{CategoryCredentialAccess, re(`\b(dump|export)\b.*\b(env|environ|variables?|credentials?)\b.*\b(send|email|text|post)\b`)},
	{CategoryCredentialAccess, re(`\bread\b.*/etc/(passwd|shadow)\b`)},

	{CategoryNetworkChange, re(`\b(sshd_config|authorized_keys)\b`)},
	{CategoryNetworkChange, re(`\b(open|enable|allow|expose)\b.*\bport\b`)},
	{CategoryNetworkChange, re(`\b(iptables|ufw|firewall)\b.*\b(disable|allow|open|delete|flush)\b`)},
	{CategoryNetworkChange, re(`\bchmod\s+777\b`)},
	{CategoryNetworkChange, re(`\b(netcat|nc|ncat)\b.*(\s-l\b|\blisten\b)`)},
	{CategoryNetworkChange, re(`\breverse.?shell\b`)},

	{CategoryDestructive, re(`\brm\s+(-rf?|--recursive)\s+/`)},
	{CategoryDestructive, re(`\brm\s+-rf?\s+~`)},
	{CategoryDestructive, re(`\bdd\b.*\bif=.*\bof=\s*/dev/`)},
	{CategoryDestructive, re(`\bmkfs\b`)},
	{CategoryDestructive, re(`\bformat\b.*\b(disk|drive|volume|partition)\b`)},
	{CategoryDestructive, re(`\b(shutdown|reboot|halt|poweroff)\b`)},
	{CategoryDestructive, re(`\bkill\s+-9\s+1\b`)},
	{CategoryDestructive, re(`:\(\)\s*\{\s*:\|:&\s*\}\s*;\s*:`)},

	{CategoryInfoLeak, re(`\b(email|text|send|message)\b.*\b(system.?info|hostname|ifconfig|ip.?addr|whoami|uname)\b`)},
	{CategoryInfoLeak, re(`\b(whoami|hostname|ifconfig|ip\s+addr)\b.*\b(email|text|send|curl|post)\b`)},
}

var informational = []matcher{
	re(`\b(search|look\s+up|research|what\s+is|tutorial|learn|how\s+to|how\s+do|article|guide)\b`),
	re(`\b(definition|explain|meaning)\b`),
}

// alwaysBlocked categories stay blocked even for informational phrasing.
var alwaysBlocked = map[string]bool{
	CategoryExfiltration: true,
	CategoryDestructive:  true,
}

// Classify checks a command and its parsed parameters. Dangerous phrasing is
// blocked, outgoing actions with unresolved targets need confirmation.
func Classify(raw string, intent core.ParsedIntent) core.SafetyVerdict {
	text := strings.ToLower(strings.TrimSpace(raw))
	combined := strings.TrimSpace(text + " " + paramsText(intent.Params))

	info := false
	for _, m := range informational {
		if m(text) {
			info = true
			break
		}
	}

	for _, r := range rules {
		if !r.match(combined) {
			continue
		}
		if info && !alwaysBlocked[r.category] {
			continue
		}
		return core.SafetyVerdict{
			Level:    core.SafetyBlocked,
			Category: r.category,
			Reason:   "dangerous command detected: " + r.category,
		}
	}

	switch intent.Action {
	case core.ActionEmail:
		if str(intent.Params, "to") == "" || intent.Reason == ReasonUnknownRecipient {
			return core.SafetyVerdict{Level: core.SafetyNeedsConfirmation, Reason: ReasonUnknownRecipient}
		}
	case core.ActionOrder:
		if str(intent.Params, "store") == "" {
			return core.SafetyVerdict{Level: core.SafetyNeedsConfirmation, Reason: ReasonUnknownStore}
		}
	}
	return core.SafetyVerdict{Level: core.SafetyAllowed}
}

func paramsText(params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, strings.ToLower(fmt.Sprint(params[k])))
	}
	return strings.Join(parts, " ")
}

func str(params map[string]any, key string) string {
	v, _ := params[key].(string)
	return strings.TrimSpace(v)
}
