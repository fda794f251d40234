package model

import "time"

// SlotAvailability describes one bookable slot of a branch day and whether
// a non-cancelled reservation currently occupies it.
type SlotAvailability struct {
	Time     string    `json:"time"` // HH:MM in the booking time zone
	StartsAt time.Time `json:"starts_at"`
	Taken    bool      `json:"is_reserved"`
	UserID   *string   `json:"user_id"`
}

// DailySummary is the queue board for one branch day.
//
//	WaitingCount          – reservations still in the accepted state.
//	LatestReceptionNumber – highest reception number issued that day.
//	CurrentNumber         – number of the most recently confirmed reservation ("now serving").
type DailySummary struct {
	CompanyID             string `json:"company_id"`
	BranchID              string `json:"branch_id"`
	Date                  string `json:"date"`
	WaitingCount          int    `json:"waiting_count"`
	LatestReceptionNumber int    `json:"latest_reception_number"`
	CurrentNumber         int    `json:"current_number"`
}
