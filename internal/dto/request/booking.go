package request

type CreateBookingRequest struct {
	JourneyID string `json:"journey_id" validate:"required,uuid"`
	Seats     int    `json:"seats" validate:"required,min=1,max=8"`
}
