package schema

const link = `{"type":"object","required":["label","href"],"properties":{"label":{"type":"string","minLength":1},"href":{"type":"string","minLength":1}}}`

// builtin holds the item kinds the pipeline knows how to fill.
var builtin = map[string]string{
	"hero": `{
		"type": "object",
		"required": ["headline"],
		"properties": {
			"headline": {"type": "string", "minLength": 1, "maxLength": 120},
			"subheadline": {"type": "string"},
			"cta": ` + link + `
		}
	}`,
	"about": `{
		"type": "object",
		"required": ["title", "body"],
		"properties": {
			"title": {"type": "string", "minLength": 1},
			"body": {"type": "string", "minLength": 1}
		}
	}`,
	"features": `{
		"type": "object",
		"required": ["items"],
		"properties": {
			"title": {"type": "string"},
			"items": {
				"type": "array",
				"minItems": 1,
				"items": {
					"type": "object",
					"required": ["title", "description"],
					"properties": {
						"title": {"type": "string", "minLength": 1},
						"description": {"type": "string"},
						"icon": {"type": "string"}
					}
				}
			}
		}
	}`,
	"pricing": `{
		"type": "object",
		"required": ["plans"],
		"properties": {
			"title": {"type": "string"},
			"plans": {
				"type": "array",
				"minItems": 1,
				"items": {
					"type": "object",
					"required": ["name", "price"],
					"properties": {
						"name": {"type": "string", "minLength": 1},
						"price": {"type": "string"},
						"period": {"type": "string"},
						"features": {"type": "array", "items": {"type": "string"}}
					}
				}
			}
		}
	}`,
	"testimonials": `{
		"type": "object",
		"required": ["quotes"],
		"properties": {
			"title": {"type": "string"},
			"quotes": {
				"type": "array",
				"minItems": 1,
				"items": {
					"type": "object",
					"required": ["quote", "author"],
					"properties": {
						"quote": {"type": "string", "minLength": 1},
						"author": {"type": "string", "minLength": 1},
						"role": {"type": "string"}
					}
				}
			}
		}
	}`,
	"faq": `{
		"type": "object",
		"required": ["questions"],
		"properties": {
			"title": {"type": "string"},
			"questions": {
				"type": "array",
				"minItems": 1,
				"items": {
					"type": "object",
					"required": ["question", "answer"],
					"properties": {
						"question": {"type": "string", "minLength": 1},
						"answer": {"type": "string", "minLength": 1}
					}
				}
			}
		}
	}`,
	"team": `{
		"type": "object",
		"required": ["members"],
		"properties": {
			"title": {"type": "string"},
			"members": {
				"type": "array",
				"minItems": 1,
				"items": {
					"type": "object",
					"required": ["name", "role"],
					"properties": {
						"name": {"type": "string", "minLength": 1},
						"role": {"type": "string"},
						"bio": {"type": "string"}
					}
				}
			}
		}
	}`,
	"gallery": `{
		"type": "object",
		"required": ["images"],
		"properties": {
			"title": {"type": "string"},
			"images": {
				"type": "array",
				"minItems": 1,
				"items": {
					"type": "object",
					"required": ["alt"],
					"properties": {
						"alt": {"type": "string", "minLength": 1},
						"caption": {"type": "string"}
					}
				}
			}
		}
	}`,
	"cta": `{
		"type": "object",
		"required": ["headline", "button"],
		"properties": {
			"headline": {"type": "string", "minLength": 1},
			"body": {"type": "string"},
			"button": ` + link + `
		}
	}`,
	"contact": `{
		"type": "object",
		"required": ["title"],
		"properties": {
			"title": {"type": "string", "minLength": 1},
			"email": {"type": "string"},
			"phone": {"type": "string"},
			"address": {"type": "string"}
		}
	}`,
	"footer": `{
		"type": "object",
		"required": ["copyright"],
		"properties": {
			"copyright": {"type": "string", "minLength": 1},
			"links": {"type": "array", "items": ` + link + `}
		}
	}`,
	"seo": `{
		"type": "object",
		"required": ["title", "description"],
		"properties": {
			"title": {"type": "string", "minLength": 1, "maxLength": 70},
			"description": {"type": "string", "minLength": 1, "maxLength": 170},
			"keywords": {"type": "array", "items": {"type": "string"}}
		}
	}`,
}
