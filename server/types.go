package server

import "github.com/krau/sketchline/dialogue"

type lineDrawingRequest struct {
	Image string `json:"image"`
	// DetailLevel is accepted for compatibility and otherwise unused.
	DetailLevel string `json:"detail_level"`
}

type lineDrawingResponse struct {
	Success bool     `json:"success"`
	Images  []string `json:"images"`
	Counter int      `json:"counter"`
}

type dialogueRequest struct {
	Image            string             `json:"image"`
	Position         *dialogue.Position `json:"position"`
	PreviousDialogue string             `json:"previousDialogue"`
}

type dialogueResponse struct {
	Success  bool   `json:"success"`
	Dialogue string `json:"dialogue"`
}

type storyResponse struct {
	Success bool     `json:"success"`
	Counter int      `json:"counter"`
	Stories []string `json:"stories"`
}

type resetResponse struct {
	Success bool `json:"success"`
	Counter int  `json:"counter"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func failure(msg string) errorResponse {
	return errorResponse{Success: false, Error: msg}
}
