package report

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/BaSui01/reportflow/rag"
)

const extractPrompt = "Identify the subject of the report request above. " +
	"Answer with a single short line naming the topic, nothing else."

func planPrompt(topic, feedback string, hints []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Draft an outline for a report on %q.\n", topic)
	b.WriteString(`Answer with JSON only: {"title": string, "sections": [string], "queries": [string]}. `)
	b.WriteString("queries are search phrases used to collect evidence.\n")
	if len(hints) > 0 {
		fmt.Fprintf(&b, "Also cover: %s\n", strings.Join(hints, "; "))
	}
	if feedback != "" {
		fmt.Fprintf(&b, "Reviewer feedback on the previous outline: %s\n", feedback)
	}
	return b.String()
}

func composePrompt(p Plan, feedback string, hints []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write the report %q using only the context above.\n", p.Title)
	if len(p.Sections) > 0 {
		fmt.Fprintf(&b, "Sections: %s.\n", strings.Join(p.Sections, ", "))
	}
	b.WriteString("Cite evidence by its [n] marker.\n")
	if len(hints) > 0 {
		fmt.Fprintf(&b, "The reviewer asked for more on: %s\n", strings.Join(hints, "; "))
	}
	if feedback != "" {
		fmt.Fprintf(&b, "Revise the previous draft according to this feedback: %s\n", feedback)
	}
	return b.String()
}

// formatEvidence 按 [n] 编号拼接证据片段
func formatEvidence(items []rag.Evidence) string {
	var b strings.Builder
	for i, ev := range items {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "[%d] %s: %s", i+1, ev.Source, ev.Snippet)
	}
	return b.String()
}

// parsePlan 从模型输出中解析大纲；解析失败时回退到以主题为中心的默认大纲
func parsePlan(text, topic string, maxQueries int) Plan {
	var p Plan
	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		if err := json.Unmarshal([]byte(text[start:end+1]), &p); err != nil {
			p = Plan{}
		}
	}
	if strings.TrimSpace(p.Title) == "" {
		p.Title = topic
	}
	if len(p.Sections) == 0 {
		p.Sections = []string{"Summary", "Findings", "Recommendations"}
	}
	p.Queries = rag.NormalizeQueries(p.Queries)
	if len(p.Queries) == 0 {
		p.Queries = []string{topic}
	}
	if len(p.Queries) > maxQueries {
		p.Queries = p.Queries[:maxQueries]
	}
	return p
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.Trim(strings.TrimSpace(s), `"'`)
}
