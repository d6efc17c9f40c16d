// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package intent

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// genericNames maps brand or variant names to the generic category used by
// the template index.
var genericNames = map[string]string{
	// Email
	"gmail":   "Email",
	"outlook": "Email",
	"email":   "Email",
	"e-mail":  "Email",
	"mail":    "Email",
	"smtp":    "Email",
	"imap":    "Email",

	// Database
	"mysql":      "Database",
	"postgresql": "Database",
	"postgres":   "Database",
	"mongodb":    "Database",
	"sqlite":     "Database",
	"database":   "Database",
	"db":         "Database",

	// Storage
	"dropbox":      "Storage",
	"google drive": "Storage",
	"onedrive":     "Storage",
	"box":          "Storage",
	"s3":           "Storage",
	"aws s3":       "Storage",
	"storage":      "Storage",

	// Teams
	"teams":           "Teams",
	"microsoft teams": "Teams",
	"ms teams":        "Teams",

	// Sheets
	"google sheets": "Sheets",
	"googlesheets":  "Sheets",
	"excel":         "Sheets",
	"spreadsheet":   "Sheets",
	"sheets":        "Sheets",
	"sheet":         "Sheets",

	// Trigger categories
	"webhook":          IntegrationWebhook,
	"webhooks":         IntegrationWebhook,
	"webhook trigger":  IntegrationWebhook,
	"form":             IntegrationForm,
	"forms":            IntegrationForm,
	"form trigger":     IntegrationForm,
	"schedule":         IntegrationSchedule,
	"schedule trigger": IntegrationSchedule,
	"cron":             IntegrationSchedule,

	// HTTP
	"http":         "HTTP Request",
	"http request": "HTTP Request",
	"rest api":     "HTTP Request",
	"api":          "HTTP Request",
}

// brandCasing fixes names that plain title-casing gets wrong.
var brandCasing = map[string]string{
	"github":      "GitHub",
	"gitlab":      "GitLab",
	"hubspot":     "HubSpot",
	"openai":      "OpenAI",
	"chatgpt":     "OpenAI",
	"clickup":     "ClickUp",
	"mailchimp":   "Mailchimp",
	"youtube":     "YouTube",
	"linkedin":    "LinkedIn",
	"whatsapp":    "WhatsApp",
	"sendgrid":    "SendGrid",
	"woocommerce": "WooCommerce",
	"rss":         "RSS",
	"ftp":         "FTP",
	"ssh":         "SSH",
	"x":           "Twitter",
}

var titleCaser = cases.Title(language.English)

// NormalizeIntegration returns the canonical spelling of an integration
// name: a generic category when one applies, otherwise the brand name in
// its usual casing.
func NormalizeIntegration(name string) string {
	trimmed := strings.Join(strings.Fields(name), " ")
	key := strings.ToLower(trimmed)
	if key == "" {
		return trimmed
	}
	if generic, ok := genericNames[key]; ok {
		return generic
	}
	if brand, ok := brandCasing[key]; ok {
		return brand
	}
	// Leave deliberate mixed case alone ("DeepL", "iCloud").
	if trimmed != strings.ToLower(trimmed) && trimmed != strings.ToUpper(trimmed) {
		return trimmed
	}
	return titleCaser.String(key)
}
