package domtest

// DemoRaw is a small publishing schema that covers links in both directions, lazy and computed
// fields, options and field level access rules.
const DemoRaw = `{
	"name": "demo",
	"can": {"*": true},
	"spaces": [{
		"name": "app",
		"resources": [{
			"name": "group",
			"fields": [
				{"name": "id", "type": "int", "primary": true},
				{"name": "name", "type": "str", "unique": true}
			]
		}, {
			"name": "user",
			"fields": [
				{"name": "id", "type": "int", "primary": true},
				{"name": "name", "type": "str"},
				{"name": "email", "type": "str", "lazy": true},
				{"name": "is_staff", "type": "bool"},
				{"name": "group", "type": "@group?"},
				{"name": "secret", "type": "str",
					"can": {"get": ".request.user.is_staff", "*": true}},
				{"name": "articles", "type": "list|@article",
					"source": "author", "lazy": true}
			]
		}, {
			"name": "article",
			"before": {"delete": ".request.user.is_staff"},
			"fields": [
				{"name": "id", "type": "int", "primary": true},
				{"name": "name", "type": "str"},
				{"name": "active", "type": "bool", "source": "is_active"},
				{"name": "status", "type": "str", "default": "'draft'", "options": [
					{"value": "draft"},
					{"value": "published"},
					{"value": "archived",
						"can": {"add,set,edit": ".request.user.is_staff"}}
				]},
				{"name": "author", "type": "@user"},
				{"name": "created", "type": "time"},
				{"name": "slug", "type": "str", "lazy": true,
					"source": {"lower": ".fields.name"}},
				{"name": "comments", "type": "list|@comment", "lazy": true}
			]
		}, {
			"name": "comment",
			"fields": [
				{"name": "id", "type": "int", "primary": true},
				{"name": "body", "type": "str"},
				{"name": "article", "type": "@article"},
				{"name": "author", "type": "@user"}
			]
		}, {
			"name": "settings",
			"singleton": true,
			"fields": [
				{"name": "title", "type": "str"},
				{"name": "motd", "type": "str?"}
			]
		}]
	}]
}`

// DemoFixRaw holds backend rows for the demo schema keyed by table name. Row keys are backend
// source names, not field keys.
const DemoFixRaw = `{
	"app.group": [
		{"id": 1, "name": "admin"},
		{"id": 2, "name": "staff"}
	],
	"app.user": [
		{"id": 1, "name": "Ann", "email": "ann@example.org", "is_staff": true,
			"group": 1, "secret": "s1"},
		{"id": 2, "name": "Ben", "email": "ben@example.org", "is_staff": false,
			"group": 2, "secret": "s2"},
		{"id": 3, "name": "Cay", "email": "cay@example.org", "is_staff": false,
			"group": null, "secret": "s3"}
	],
	"app.article": [
		{"id": 1, "name": "Alpha", "is_active": true, "status": "published",
			"author": 1, "created": "2024-01-01T00:00:00Z"},
		{"id": 2, "name": "Beta", "is_active": true, "status": "draft",
			"author": 2, "created": "2024-02-01T00:00:00Z"},
		{"id": 3, "name": "Gamma", "is_active": false, "status": "published",
			"author": 2, "created": "2024-03-01T00:00:00Z"},
		{"id": 4, "name": "Delta", "is_active": true, "status": "archived",
			"author": 1, "created": "2024-04-01T00:00:00Z"}
	],
	"app.comment": [
		{"id": 1, "body": "first", "article": 1, "author": 2},
		{"id": 2, "body": "nice", "article": 1, "author": 3},
		{"id": 3, "body": "hm", "article": 2, "author": 1},
		{"id": 4, "body": "more", "article": 1, "author": 1},
		{"id": 5, "body": "why", "article": 3, "author": 3}
	],
	"app.settings": [
		{"id": 1, "title": "demo", "motd": null}
	]
}`

// Demo returns the demo fixture.
func Demo() (*Fixture, error) { return New(DemoRaw, DemoFixRaw) }
