package models

// Address est figée dans la commande au moment du checkout.
type Address struct {
	FullName   string `json:"full_name"`
	Street     string `json:"street"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

func (a Address) IsZero() bool {
	return a.Street == "" && a.City == "" && a.PostalCode == "" && a.Country == ""
}
