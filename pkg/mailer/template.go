package mailer

import (
	"bytes"
	html "html/template"
	"strings"
	text "text/template"

	"github.com/ragvault/fulfillment/pkg/fulfillment"
)

// The HTML body mirrors the marketing site's dark theme. The license key is
// rendered inside a <code> block; compact JWS alphabet contains no
// HTML-significant characters, so escaping never alters it.
var htmlTemplate = html.Must(html.New("license_email").Parse(`
<div style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
  <div style="background: linear-gradient(135deg, #6366f1, #8b5cf6); padding: 30px; border-radius: 12px 12px 0 0; text-align: center;">
    <h1 style="color: white; margin: 0; font-size: 24px;">Your RagVault License Key</h1>
  </div>
  <div style="background: #1e1e2e; padding: 30px; border-radius: 0 0 12px 12px; color: #e2e8f0;">
    <p>Hi{{if .Name}} {{.Name}}{{end}},</p>
    <p>Thank you for purchasing a <strong>{{.TierDisplay}}</strong> license for PGVectorRAGIndexer!</p>

    <div style="background: #2d2d3f; border: 1px solid #4a4a5e; border-radius: 8px; padding: 20px; margin: 20px 0;">
      <p style="margin: 0 0 8px 0; color: #9ca3af; font-size: 12px; text-transform: uppercase; letter-spacing: 0.05em;">License Key</p>
      <code style="display: block; background: #1a1a2e; padding: 12px; border-radius: 6px; font-size: 11px; word-break: break-all; color: #a5b4fc;">{{.LicenseKey}}</code>
    </div>

    <table style="width: 100%; margin: 20px 0; color: #e2e8f0;">
      <tr><td style="padding: 6px 0; color: #9ca3af;">Edition</td><td style="padding: 6px 0; text-align: right;">{{.TierDisplay}}</td></tr>
      <tr><td style="padding: 6px 0; color: #9ca3af;">Licensed Seats</td><td style="padding: 6px 0; text-align: right;">{{.Seats}}</td></tr>
      <tr><td style="padding: 6px 0; color: #9ca3af;">Valid Until</td><td style="padding: 6px 0; text-align: right;">{{.ValidUntil}}</td></tr>
    </table>

    <div style="background: #2d2d3f; border-radius: 8px; padding: 16px; margin: 20px 0;">
      <p style="margin: 0 0 8px 0; color: #9ca3af; font-size: 12px; text-transform: uppercase;">Installation</p>
      <p style="margin: 0; font-size: 14px;"><strong>macOS / Linux:</strong></p>
      <code style="display: block; background: #1a1a2e; padding: 8px; border-radius: 4px; font-size: 11px; margin: 4px 0 12px 0; color: #a5b4fc;">mkdir -p ~/.pgvector-license &amp;&amp; echo '{{.LicenseKey}}' &gt; ~/.pgvector-license/license.key &amp;&amp; chmod 600 ~/.pgvector-license/license.key</code>
      <p style="margin: 0; font-size: 14px;"><strong>Windows:</strong></p>
      <code style="display: block; background: #1a1a2e; padding: 8px; border-radius: 4px; font-size: 11px; margin: 4px 0 0 0; color: #a5b4fc;">Save the key to %APPDATA%\PGVectorRAGIndexer\license.key</code>
    </div>

    <p style="color: #9ca3af; font-size: 13px;">Need help? Reply to this email or visit <a href="https://www.ragvault.net" style="color: #a5b4fc;">ragvault.net</a>.</p>
  </div>
</div>
`))

// The plain-text part carries the artifact byte-for-byte for clients that
// strip or reflow HTML.
var textTemplate = text.Must(text.New("license_email_text").Parse(`Hi{{if .Name}} {{.Name}}{{end}},

Thank you for purchasing a {{.TierDisplay}} license for PGVectorRAGIndexer!

Your license key:

{{.LicenseKey}}

Edition:        {{.TierDisplay}}
Licensed Seats: {{.Seats}}
Valid Until:    {{.ValidUntil}}

Installation (macOS / Linux):
  mkdir -p ~/.pgvector-license && echo '{{.LicenseKey}}' > ~/.pgvector-license/license.key && chmod 600 ~/.pgvector-license/license.key

Installation (Windows):
  Save the key to %APPDATA%\PGVectorRAGIndexer\license.key

Need help? Reply to this email or visit https://www.ragvault.net.
`))

type templateData struct {
	Name        string
	TierDisplay string
	LicenseKey  string
	Seats       int
	ValidUntil  string
}

func buildTemplateData(d fulfillment.Delivery) templateData {
	return templateData{
		Name:        d.Name,
		TierDisplay: DisplayTier(d.Tier),
		LicenseKey:  d.LicenseKey,
		Seats:       d.Seats,
		ValidUntil:  d.ExpiresAt.Format("January 2, 2006"),
	}
}

func renderHTML(d fulfillment.Delivery) (string, error) {
	var buf bytes.Buffer
	if err := htmlTemplate.Execute(&buf, buildTemplateData(d)); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func renderText(d fulfillment.Delivery) (string, error) {
	var buf bytes.Buffer
	if err := textTemplate.Execute(&buf, buildTemplateData(d)); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// DisplayTier capitalizes a tier identifier for human-readable output.
func DisplayTier(tier string) string {
	if tier == "" {
		return tier
	}
	return strings.ToUpper(tier[:1]) + tier[1:]
}
