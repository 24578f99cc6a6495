// Package styling wraps raw HTML content in one of the named gateway
// email templates and inlines the resulting CSS. Inlining failure never
// fails a send, the non-inlined HTML is used instead.
package styling

import (
	"bytes"
	"html/template"
	"time"

	"github.com/vanng822/go-premailer/premailer"
)

type Template struct {
	Name        string
	Description string
	tmpl        *template.Template
}

type Options struct {
	Template     string
	TemplateData map[string]string
	InlineCss    bool
}

type wrapperData struct {
	Content     template.HTML
	BrandColor  string
	CompanyName string
	Heading     string
	Title       string
	Year        int
}

const defaultBrandColor = "#4F46E5"

var base = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<style>
body { margin: 0; padding: 0; font-family: -apple-system, 'Segoe UI', Roboto, 'Helvetica Neue', Arial, sans-serif; background-color: #f3f4f6; }
.email-wrapper { max-width: 600px; margin: 0 auto; background-color: #ffffff; }
.email-header { background-color: {{.BrandColor}}; padding: 40px 30px; text-align: center; }
.email-body { padding: 40px 30px; color: #374151; font-size: 16px; line-height: 1.6; }
.email-footer { background-color: #f9fafb; padding: 30px; text-align: center; color: #6b7280; font-size: 14px; border-top: 1px solid #e5e7eb; }
h1, h2, h3 { color: #111827; margin-top: 0; }
a { color: {{.BrandColor}}; text-decoration: none; }
.button { display: inline-block; padding: 12px 30px; background-color: {{.BrandColor}}; color: #ffffff; border-radius: 6px; font-weight: 600; margin: 20px 0; }
</style>
</head>
<body>
<div class="email-wrapper">
`

var footer = `</div>
</body>
</html>
`

func mustParse(name, body string) *template.Template {
	return template.Must(template.New(name).Parse(base + body + footer))
}

var templates = map[string]*Template{
	"modern": {
		Name:        "modern",
		Description: "Clean, modern design with colored header",
		tmpl: mustParse("modern", `<div class="email-header">
<h1 style="color: white; margin: 0; font-size: 28px;">{{.CompanyName}}</h1>
</div>
<div class="email-body">
{{.Content}}
</div>
<div class="email-footer">
<p style="margin: 0 0 10px 0;">&copy; {{.Year}} {{.CompanyName}}. All rights reserved.</p>
<p style="margin: 0; font-size: 12px;">This email was sent from an automated system. Please do not reply.</p>
</div>`),
	},
	"simple": {
		Name:        "simple",
		Description: "Minimal design, plain text with light styling",
		tmpl: mustParse("simple", `<div class="email-body" style="padding: 50px 30px;">
{{.Content}}
</div>`),
	},
	"newsletter": {
		Name:        "newsletter",
		Description: "Newsletter style with prominent header",
		tmpl: mustParse("newsletter", `<div class="email-header">
<h2 style="color: white; margin: 0 0 10px 0; font-size: 14px; text-transform: uppercase; letter-spacing: 2px;">{{.CompanyName}}</h2>
<h1 style="color: white; margin: 0; font-size: 32px;">{{.Heading}}</h1>
</div>
<div class="email-body">
{{.Content}}
</div>
<div class="email-footer">
<p style="margin: 0;">{{.CompanyName}} | <a href="#">Unsubscribe</a> | <a href="#">Preferences</a></p>
</div>`),
	},
	"transactional": {
		Name:        "transactional",
		Description: "Clean design for receipts, confirmations and notifications",
		tmpl: mustParse("transactional", `<div style="background-color: {{.BrandColor}}; padding: 20px 30px;">
<h2 style="color: white; margin: 0; font-size: 20px;">{{.CompanyName}}</h2>
</div>
<div class="email-body">
{{.Content}}
</div>
<div class="email-footer">
<p style="margin: 0; font-size: 12px;">&copy; {{.Year}} {{.CompanyName}}</p>
</div>`),
	},
	"announcement": {
		Name:        "announcement",
		Description: "Bold design for important announcements",
		tmpl: mustParse("announcement", `<div class="email-header" style="padding: 50px 30px;">
<h1 style="color: white; margin: 0; font-size: 36px;">{{.Title}}</h1>
</div>
<div class="email-body" style="padding: 50px 30px; background-color: #fffbeb; border-left: 4px solid {{.BrandColor}};">
{{.Content}}
</div>`),
	},
}

// Known reports whether name refers to a gateway styling template.
func Known(name string) bool {
	_, ok := templates[name]
	return ok
}

// Available lists the gateway styling templates.
func Available() []Template {
	var out []Template
	for _, name := range []string{"modern", "simple", "newsletter", "transactional", "announcement"} {
		out = append(out, *templates[name])
	}
	return out
}

func coalesce(m map[string]string, key, def string) string {
	if v, ok := m[key]; ok && v != "" {
		return v
	}
	return def
}

// Process wraps html in the named template, when one is given, and then
// inlines the CSS unless disabled.
func Process(html string, opts Options) string {
	out := html

	if t, ok := templates[opts.Template]; ok {
		data := wrapperData{
			Content:     template.HTML(html),
			BrandColor:  coalesce(opts.TemplateData, "brandColor", defaultBrandColor),
			CompanyName: coalesce(opts.TemplateData, "companyName", "Company"),
			Heading:     coalesce(opts.TemplateData, "heading", "Latest Updates"),
			Title:       coalesce(opts.TemplateData, "title", "Important Announcement"),
			Year:        time.Now().Year(),
		}
		if opts.Template == "newsletter" {
			data.CompanyName = coalesce(opts.TemplateData, "companyName", "Newsletter")
		}
		buff := &bytes.Buffer{}
		err := t.tmpl.Execute(buff, data)
		if err == nil {
			out = buff.String()
		}
	}

	if opts.InlineCss {
		out = inline(out)
	}
	return out
}

func inline(html string) string {
	p, err := premailer.NewPremailerFromString(html, premailer.NewOptions())
	if err != nil {
		return html
	}
	inlined, err := p.Transform()
	if err != nil {
		return html
	}
	return inlined
}
