// Package config handles configuration loading for tutor-gateway.
//
// # Sources
//
// Values are layered in this order, later sources winning:
//
//  1. Built-in defaults (Default)
//  2. A YAML file, or TOML when the path ends in .toml
//  3. Environment variables named in `env` struct tags
//
// A missing file is not an error, so a deployment can run on environment
// variables alone. The command loads a .env file before calling Load.
//
// # Environment Variable Expansion
//
// File values can reference environment variables:
//
//	openai:
//	  api_key: "${OPENAI_API_KEY}"
//
// # Topics
//
// Each textbook topic maps to an upstream assistant. AssistantID checks the
// assistants.topics map, then ASSISTANT{TOPIC}_ID with the topic uppercased:
//
//	assistants:
//	  topics:
//	    "3": "asst_abc123"
//
//	ASSISTANT3_ID=asst_abc123
//
// An unknown topic yields ErrTopicNotConfigured. There is no default assistant.
//
// # Configuration Sections
//
//	server:
//	  http_addr: ":8080"
//	  request_timeout: "30s"
//	  allowed_origins: ["https://textbook.example.edu"]
//
//	database:
//	  driver: "sqlite"          # sqlite, postgres, mongo
//	  dsn: "data/tutor.db"
//	  name: ""                  # mongo database name
//
//	bootstrap:
//	  sentinel: "Hi"
//	  auto: true
//	  poll_interval: "1s"
//	  max_poll_attempts: 30
//
//	auth:
//	  jwt_secret: "${TUTOR_JWT_SECRET}"   # empty disables bearer checks
//
//	idempotency:
//	  ttl: "10m"
//	  max_keys: 10000
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
