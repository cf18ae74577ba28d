package dto

// NBIFRequest carries the form fields read by the page controller.
type NBIFRequest struct {
	Do      string `json:"do" validate:"omitempty,max=32,alphanum"`
	Page    string `json:"page" validate:"omitempty,max=255"`
	CSQName string `json:"csq_name" validate:"omitempty,max=255"`
}

// NBIFRequestFromForm picks the controller fields out of a request form.
func NBIFRequestFromForm(form map[string]string) NBIFRequest {
	return NBIFRequest{Do: form["do"], Page: form["page"], CSQName: form["csq_name"]}
}

// ProblemList is the payload of the list action.
type ProblemList struct {
	ProblemNames []string `json:"problem_names"`
}
