package gemini

import (
	"google.golang.org/genai"

	"github.com/edgard/mnemobot/internal/router"
)

var classificationSchema = func() *genai.Schema {
	categories := router.AllCategories()
	enum := make([]string, len(categories))
	for i, c := range categories {
		enum[i] = c.String()
	}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"category": {Type: genai.TypeString, Enum: enum, Description: "The category of the user's message."},
		},
		Required: []string{"category"},
	}
}()

var idListSchema = &genai.Schema{Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeInteger}}

var informationSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"response":           {Type: genai.TypeString, Description: "The answer to the user, or the summary of the new information."},
		"is_data_dump":       {Type: genai.TypeBoolean, Description: "True when the user provided new information to store."},
		"set_event_reminder": {Type: genai.TypeString, Description: "Description and time of an event to be reminded of. Empty when there is none."},
		"source_documents":   {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeInteger}, Description: "Message ids the answer is based on."},
		"is_hard_retrieval":  {Type: genai.TypeBoolean, Description: "True when the user wants the original files of the source documents."},
	},
	Required: []string{"response", "is_data_dump", "set_event_reminder", "source_documents", "is_hard_retrieval"},
}

var polishSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"response":          {Type: genai.TypeString, Description: "The final reply to the user."},
		"document_ids":      idListSchema,
		"is_hard_retrieval": {Type: genai.TypeBoolean, Description: "True when the original files must be sent to the user."},
	},
	Required: []string{"response", "document_ids", "is_hard_retrieval"},
}

var documentSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"file_name": {Type: genai.TypeString, Description: "Short file name without extension."},
		"title":     {Type: genai.TypeString},
		"sections": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"heading": {Type: genai.TypeString},
					"body":    {Type: genai.TypeString},
				},
				Required: []string{"heading", "body"},
			},
		},
		"custom_css": {Type: genai.TypeString},
	},
	Required: []string{"file_name", "title", "sections", "custom_css"},
}
