package ai

import (
	_ "embed"
	"strings"
	"text/template"
)

//go:embed system_prompt.tmpl
var systemPromptSource string

var systemPromptTmpl = template.Must(template.New("system").Parse(systemPromptSource))

// RenderSystemPrompt renders the system prompt, mentioning the deployment the
// agent is integrated on when a label is known.
func RenderSystemPrompt(deploymentLabel string) string {
	reference := ""
	if deploymentLabel != "" {
		reference = " integrated on " + deploymentLabel
	}
	var b strings.Builder
	if err := systemPromptTmpl.Execute(&b, map[string]string{"DeploymentReference": reference}); err != nil {
		// The template is embedded and parsed at init; execution over a plain
		// string map cannot fail, but fall back to something usable anyway.
		return "You are CryptoSage, a concise cryptocurrency assistant."
	}
	return b.String()
}
