package types

import "time"

// KnowledgeUnit is one entry in the general knowledge database: a character,
// word, or concept the user can study.
type KnowledgeUnit struct {
	ID        string                 `json:"id"`
	Slug      string                 `json:"slug"`
	Type      string                 `json:"type"`
	Character string                 `json:"character"`
	Meaning   string                 `json:"meaning"`
	Level     int                    `json:"level"`
	Mnemonics map[string]interface{} `json:"mnemonics,omitempty"`
}

// LearningState is a user's spaced-repetition record for one knowledge unit.
type LearningState struct {
	UserID     string     `json:"user_id"`
	KUID       string     `json:"ku_id"`
	State      string     `json:"state"`
	Stability  float64    `json:"stability"`
	Difficulty float64    `json:"difficulty"`
	Reps       int        `json:"reps"`
	Lapses     int        `json:"lapses"`
	Notes      string     `json:"notes,omitempty"`
	NextReview *time.Time `json:"next_review,omitempty"`
	LastReview *time.Time `json:"last_review,omitempty"`
}

// KUStatus combines a knowledge unit with the user's learning state,
// defaulting to a fresh state when the user has never seen the unit.
type KUStatus struct {
	KUID       string     `json:"ku_id"`
	Slug       string     `json:"slug"`
	Type       string     `json:"type"`
	Character  string     `json:"character"`
	Meaning    string     `json:"meaning"`
	Level      int        `json:"level"`
	State      string     `json:"state"`
	Stability  float64    `json:"stability"`
	Difficulty float64    `json:"difficulty"`
	Reps       int        `json:"reps"`
	Lapses     int        `json:"lapses"`
	Notes      string     `json:"notes,omitempty"`
	NextReview *time.Time `json:"next_review,omitempty"`
	LastReview *time.Time `json:"last_review,omitempty"`
}
