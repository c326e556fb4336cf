package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/yangwenmai/reqscribe/internal/model"
)

// Classify asks model whether sample is about software. Any reply other
// than SOFTWARE counts as OTHER.
func Classify(ctx context.Context, client ModelClient, modelName, sample string) (Topic, error) {
	resp, err := client.Generate(ctx, Request{
		Model:  modelName,
		System: classifySystemPrompt,
		Prompt: buildClassifyPrompt(sample),
	})
	if err != nil {
		return TopicOther, err
	}
	return parseTopic(resp), nil
}

func parseTopic(resp string) Topic {
	word := strings.ToUpper(strings.Trim(strings.TrimSpace(resp), " .!\"'`*"))
	if word == string(TopicSoftware) {
		return TopicSoftware
	}
	return TopicOther
}

// Document is a generated requirements document.
type Document struct {
	Format string
	// Body is the file content written to disk.
	Body []byte
	// Data is the compact JSON stored inline; nil for markdown.
	Data json.RawMessage
}

// Analyze turns a transcript into a requirements document in the given
// format. Every error means the model produced nothing usable.
func Analyze(ctx context.Context, client ModelClient, modelName, format, transcript string) (*Document, error) {
	switch format {
	case model.FormatJSON:
		return analyzeJSON(ctx, client, modelName, transcript)
	case model.FormatMarkdown, "":
		return analyzeMarkdown(ctx, client, modelName, transcript)
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}

func analyzeJSON(ctx context.Context, client ModelClient, modelName, transcript string) (*Document, error) {
	resp, err := client.Generate(ctx, Request{
		Model:  modelName,
		System: analystJSONSystemPrompt,
		Prompt: buildAnalystPrompt(transcript),
		Format: "json",
	})
	if err != nil {
		return nil, err
	}

	var ext RequirementsExtraction
	if err := DecodeLLMJSON(resp, &ext); err != nil {
		return nil, fmt.Errorf("decode requirements: %w", err)
	}
	if ext.ProjectSummary == (ProjectSummary{}) && len(ext.ActionItems) == 0 {
		return nil, errors.New("decode requirements: no summary or action items")
	}

	data, err := json.Marshal(ext)
	if err != nil {
		return nil, err
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "  "); err != nil {
		return nil, err
	}
	pretty.WriteByte('\n')
	return &Document{Format: model.FormatJSON, Body: pretty.Bytes(), Data: data}, nil
}

func analyzeMarkdown(ctx context.Context, client ModelClient, modelName, transcript string) (*Document, error) {
	resp, err := client.Generate(ctx, Request{
		Model:  modelName,
		System: analystMarkdownSystemPrompt,
		Prompt: buildAnalystPrompt(transcript),
	})
	if err != nil {
		return nil, err
	}
	text := strings.TrimSpace(stripCodeFence(resp))
	if text == "" {
		return nil, ErrEmptyResponse
	}
	return &Document{Format: model.FormatMarkdown, Body: []byte(text + "\n")}, nil
}
