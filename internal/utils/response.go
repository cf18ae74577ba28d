package utils

import "github.com/gofiber/fiber/v2"

// APIResponse is the JSON envelope used by the non-page endpoints.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Meta    interface{} `json:"meta,omitempty"`
	Details interface{} `json:"details,omitempty"`
	Message string      `json:"message"`
}

// OK sends a 200 envelope. meta is optional.
func OK(c *fiber.Ctx, data interface{}, message string, meta interface{}) error {
	if message == "" {
		message = "success"
	}
	return c.Status(fiber.StatusOK).JSON(APIResponse{Success: true, Data: data, Meta: meta, Message: message})
}

// Fail sends an error envelope with optional details.
func Fail(c *fiber.Ctx, status int, message string, details interface{}) error {
	if message == "" {
		message = "error"
	}
	if status == 0 {
		status = fiber.StatusInternalServerError
	}
	return c.Status(status).JSON(APIResponse{Success: false, Details: details, Message: message})
}

// SendError sends an error envelope without details.
func SendError(c *fiber.Ctx, status int, message string) error {
	return Fail(c, status, message, nil)
}

// SendRaw writes body unchanged with the given content type. Page
// controller responses bypass the envelope.
func SendRaw(c *fiber.Ctx, status int, contentType, body string) error {
	if contentType == "" {
		contentType = fiber.MIMETextHTMLCharsetUTF8
	}
	c.Set(fiber.HeaderContentType, contentType)
	return c.Status(status).SendString(body)
}
