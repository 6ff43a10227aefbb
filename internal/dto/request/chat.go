package request

type SendMessageRequest struct {
	SenderID   string `json:"senderId" validate:"omitempty,uuid"`
	SenderName string `json:"senderName" validate:"required,max=80"`
	Text       string `json:"text" validate:"required,max=2000"`
}
