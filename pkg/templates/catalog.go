package templates

import (
	"encoding/json"

	"github.com/dukex/provisioner/pkg/models"
)

// Catalog returns the built-in automations published at startup when missing.
func Catalog() []*models.WorkflowTemplate {
	return []*models.WorkflowTemplate{
		{
			AutomationID:     "fakturering",
			Name:             "Automatisk fakturering",
			Description:      "Creates Tripletex invoices for paid Vipps orders.",
			RequiredServices: []string{"tripletex", "vipps"},
			Definition: json.RawMessage(`{
				"nodes": [
					{
						"name": "Vipps payments",
						"type": "vipps.paymentsTrigger",
						"parameters": {"pollMinutes": 15},
						"credentials": {
							"clientId": "{{credential:vipps_client_id}}",
							"clientSecret": "{{credential:vipps_client_secret}}",
							"subscriptionKey": "{{credential:vipps_subscription_key}}"
						}
					},
					{
						"name": "Create invoice",
						"type": "tripletex.invoice",
						"parameters": {"sendToCustomer": true},
						"credentials": {
							"consumerToken": "{{credential:tripletex_consumer}}",
							"employeeToken": "{{credential:tripletex_employee}}"
						}
					}
				],
				"connections": {"Vipps payments": {"main": [[{"node": "Create invoice"}]]}}
			}`),
			Bindings: map[string]models.CredentialBinding{
				"vipps_client_id":        {Service: "vipps", Field: "client_id"},
				"vipps_client_secret":    {Service: "vipps", Field: "client_secret"},
				"vipps_subscription_key": {Service: "vipps", Field: "subscription_key"},
				"tripletex_consumer":     {Service: "tripletex", Field: "consumer_token"},
				"tripletex_employee":     {Service: "tripletex", Field: "employee_token"},
			},
		},
		{
			AutomationID:     "lead_capture",
			Name:             "Lead capture",
			Description:      "Pushes new HubSpot contacts to a Slack channel.",
			RequiredServices: []string{"hubspot", "slack"},
			Definition: json.RawMessage(`{
				"nodes": [
					{
						"name": "New contact",
						"type": "hubspot.contactTrigger",
						"credentials": {"accessToken": "{{credential:hubspot_token}}"}
					},
					{
						"name": "Notify sales",
						"type": "slack.message",
						"parameters": {"channel": "#sales", "token": "{{credential:slack_bot}}"}
					}
				],
				"connections": {"New contact": {"main": [[{"node": "Notify sales"}]]}}
			}`),
			Bindings: map[string]models.CredentialBinding{
				"hubspot_token": {Service: "hubspot", Field: "access_token"},
				"slack_bot":     {Service: "slack", Field: "bot_token"},
			},
		},
		{
			AutomationID:     "booking_reminders",
			Name:             "Booking reminders",
			Description:      "Reminds Pipedrive contacts of upcoming calendar bookings.",
			RequiredServices: []string{"google_calendar", "pipedrive"},
			Definition: json.RawMessage(`{
				"nodes": [
					{
						"name": "Upcoming events",
						"type": "googleCalendar.eventsTrigger",
						"parameters": {"lookaheadHours": 24},
						"credentials": {"accessToken": "{{credential:calendar_token}}"}
					},
					{
						"name": "Find person",
						"type": "pipedrive.person",
						"credentials": {"apiToken": "{{credential:pipedrive_token}}"}
					}
				],
				"connections": {"Upcoming events": {"main": [[{"node": "Find person"}]]}}
			}`),
			Bindings: map[string]models.CredentialBinding{
				"calendar_token":  {Service: "google_calendar", Field: "access_token"},
				"pipedrive_token": {Service: "pipedrive", Field: "api_token"},
			},
		},
	}
}
