package engine

import (
	"fmt"
	"unicode/utf8"
)

// maxTranscriptRunes bounds the transcript sent to the analyst.
const maxTranscriptRunes = 60000

const classifySystemPrompt = `You are a strict topic classifier for meeting recordings.
Decide whether the transcript excerpt is a conversation about building, changing or operating software
(features, bugs, requirements, releases, systems, apps, APIs, data).

Answer with exactly one word:
SOFTWARE - the excerpt is about software
OTHER    - anything else, including music, small talk, silence or unintelligible text`

const analystJSONSystemPrompt = `You are a senior requirements engineer. You turn conversations between clients
and developers into actionable technical specifications.

Analyse the meeting transcript and extract it into a single JSON document.

Rules:
- Ignore small talk. Focus only on feedback, requests, problems and requirements about the software.
- Be concise. Rewrite what was said as clear requirements instead of quoting long passages.
- Do not invent. If a field was not mentioned, use null.
- Reply with the JSON object only, no text before or after it.

Schema (do not add or remove keys):
{
  "project_summary": {
    "software_name": "name or short description of the software discussed",
    "main_goal_of_meeting": "the main goal of the meeting in one sentence"
  },
  "participants": {
    "client": "client name if mentioned, otherwise \"Client\"",
    "developer": "developer name if mentioned, otherwise \"Developer\""
  },
  "action_items": [
    {
      "type": "NEW_FEATURE | BUG_FIX | CHANGE_REQUEST | QUESTION",
      "title": "short descriptive title",
      "description": "what was requested",
      "context": "why it was requested, or null",
      "priority": "HIGH | MEDIUM | LOW, or null"
    }
  ]
}`

const analystMarkdownSystemPrompt = `You are a senior solutions architect and requirements analyst.
Read the raw meeting transcript (it may contain noise, slang and leftover timestamps) and turn it into a
professional Software Requirements Specification in Markdown.

Processing:
1. Ignore timestamps and system noise; focus on the human dialogue.
2. Rewrite informal speech in formal technical language.
3. Identify what kind of software is discussed and use its terminology.
4. Keep what already exists separate from what is planned.

Output only the Markdown below, with no introduction:

# Requirements Specification: <project name>

## 1. Executive Summary
## 2. Current Status and Features
## 3. Roadmap and Future Improvements
## 4. Business Rules and Definitions
## 5. Feedback and Q&A
| Topic | Answer / Decision | Criticality |
| :--- | :--- | :--- |
## 6. Non-Functional Requirements`

func buildClassifyPrompt(sample string) string {
	return fmt.Sprintf("Transcript excerpt:\n%s\n\nAnswer SOFTWARE or OTHER.", truncateRunes(sample, 4000))
}

func buildAnalystPrompt(transcript string) string {
	return fmt.Sprintf("Meeting transcript:\n%s", truncateRunes(transcript, maxTranscriptRunes))
}

// truncateRunes truncates s to maxRunes runes (Unicode-safe).
func truncateRunes(s string, maxRunes int) string {
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxRunes]) + "\n... [truncated]"
}
