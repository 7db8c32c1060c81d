package content

// prelude defines shared variables; every template starts with it.
const prelude = `{{- $name := .BusinessName | trim | default "Your Business" -}}
{{- $industry := .Industry | replace "_" " " | trim -}}
{{- $trade := $industry | default "business" -}}
{{- $about := .Description | trim | default (printf "%s is a trusted local %s dedicated to quality and care." $name $trade) -}}
`

const genericTemplate = `{"title": {{ .Kind | replace "_" " " | title | toJson }}, "body": {{ $about | toJson }}}`

var builtin = map[string]string{
	"hero": `{
		"headline": {{ printf "Welcome to %s" $name | toJson }},
		"subheadline": {{ $about | toJson }},
		"cta": {"label": "Get in touch", "href": "#contact"}
	}`,
	"about": `{
		"title": {{ printf "About %s" $name | toJson }},
		"body": {{ $about | toJson }}
	}`,
	"features": `{
		"title": "Why choose us",
		"items": [
			{"title": "Experienced team", "description": {{ printf "Years of %s experience behind every project." $trade | toJson }}},
			{"title": "Customer first", "description": "We listen, plan and deliver around your needs."},
			{"title": "Fair pricing", "description": "Clear quotes with no hidden costs."}
		]
	}`,
	"pricing": `{
		"title": "Plans",
		"plans": [
			{"name": "Starter", "price": "Contact us", "features": ["Consultation", "Standard support"]},
			{"name": "Professional", "price": "Contact us", "features": ["Everything in Starter", "Priority support"]}
		]
	}`,
	"testimonials": `{
		"title": "What our customers say",
		"quotes": [
			{"quote": {{ printf "%s made the whole process easy." $name | toJson }}, "author": "A happy customer"}
		]
	}`,
	"faq": `{
		"title": "Frequently asked questions",
		"questions": [
			{"question": {{ printf "What does %s offer?" $name | toJson }}, "answer": {{ $about | toJson }}},
			{"question": "How do I get started?", "answer": "Contact us and we will reply within one business day."}
		]
	}`,
	"team": `{
		"title": "Our team",
		"members": [{"name": {{ printf "The %s team" $name | toJson }}, "role": "Here to help"}]
	}`,
	"gallery": `{
		"title": "Gallery",
		"images": [{"alt": {{ printf "%s at work" $name | toJson }}, "caption": ""}]
	}`,
	"cta": `{
		"headline": {{ printf "Ready to work with %s?" $name | toJson }},
		"button": {"label": "Contact us", "href": "#contact"}
	}`,
	"contact": `{
		"title": "Contact us",
		"email": {{ .Email | toJson }},
		"phone": {{ .Phone | toJson }},
		"address": {{ .Location | toJson }}
	}`,
	"footer": `{
		"copyright": {{ if .Year }}{{ printf "© %d %s" .Year $name | toJson }}{{ else }}{{ printf "© %s" $name | toJson }}{{ end }},
		"links": [{"label": "Contact", "href": "#contact"}]
	}`,
	"seo": `{
		"title": {{ if $industry }}{{ printf "%s | %s" $name ($industry | title) | trunc 70 | toJson }}{{ else }}{{ $name | trunc 70 | toJson }}{{ end }},
		"description": {{ $about | trunc 170 | toJson }},
		"keywords": {{ list ($name | lower) $trade | compact | uniq | toJson }}
	}`,
}
