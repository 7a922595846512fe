// Package domain defines the core member-qa types, sentinel errors and
// question validation. It is shared by the retrieval index, the query
// service and the HTTP boundary.
package domain

// NotFoundMessage is the answer text returned when no record clears the
// relevance floor.
const NotFoundMessage = "I couldn't find relevant information to answer this question."

// Record is one member message. Its identity is its position in the corpus
// at the time of the last refresh.
type Record struct {
	Speaker string `json:"user_name"`
	Text    string `json:"message"`

	// Passthrough fields from the messages API. Never used for ranking.
	ID        string `json:"id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Render returns the "{speaker}: {text}" form used both as the embedded
// record text and as a source line.
func (r Record) Render() string {
	return r.Speaker + ": " + r.Text
}

// Bullet returns the "- {speaker}: {text}" form used for the headline answer.
func (r Record) Bullet() string {
	return "- " + r.Render()
}

// Answer is the response shape of an ask.
type Answer struct {
	Answer     string   `json:"answer"`
	Confidence float64  `json:"confidence"`
	Sources    []string `json:"sources"`
}

// NotFound returns the no-match answer. Sources is empty, never nil, so it
// encodes as [].
func NotFound(message string) *Answer {
	if message == "" {
		message = NotFoundMessage
	}
	return &Answer{Answer: message, Confidence: 0, Sources: []string{}}
}
