package domain

// Address stores address fields exchanged with the platform.
type Address struct {
	ID         string `json:"id,omitempty"`
	Key        string `json:"key,omitempty"`
	FirstName  string `json:"firstName,omitempty"`
	LastName   string `json:"lastName,omitempty"`
	Country    string `json:"country"`
	StreetName string `json:"streetName,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	City       string `json:"city,omitempty"`
	Email      string `json:"email,omitempty"`
	Department string `json:"department,omitempty"`
}

// Customer represents a registered platform customer.
type Customer struct {
	ID                       string    `json:"id"`
	Version                  int       `json:"version"`
	Email                    string    `json:"email"`
	FirstName                string    `json:"firstName,omitempty"`
	LastName                 string    `json:"lastName,omitempty"`
	DateOfBirth              string    `json:"dateOfBirth,omitempty"`
	Addresses                []Address `json:"addresses"`
	DefaultShippingAddressID string    `json:"defaultShippingAddressId,omitempty"`
	DefaultBillingAddressID  string    `json:"defaultBillingAddressId,omitempty"`
	ShippingAddressIDs       []string  `json:"shippingAddressIds,omitempty"`
	BillingAddressIDs        []string  `json:"billingAddressIds,omitempty"`
	IsEmailVerified          bool      `json:"isEmailVerified"`
	AuthenticationMode       string    `json:"authenticationMode,omitempty"`
}

// CustomerDraft is the registration payload. Address defaults are indexes
// into Addresses.
type CustomerDraft struct {
	Email                  string    `json:"email"`
	Password               string    `json:"password"`
	FirstName              string    `json:"firstName,omitempty"`
	LastName               string    `json:"lastName,omitempty"`
	DateOfBirth            string    `json:"dateOfBirth,omitempty"`
	Addresses              []Address `json:"addresses,omitempty"`
	DefaultShippingAddress *int      `json:"defaultShippingAddress,omitempty"`
	DefaultBillingAddress  *int      `json:"defaultBillingAddress,omitempty"`
	ShippingAddresses      []int     `json:"shippingAddresses,omitempty"`
	BillingAddresses       []int     `json:"billingAddresses,omitempty"`
}

type CustomerSignInResult struct {
	Customer Customer `json:"customer"`
	Cart     *Cart    `json:"cart,omitempty"`
}

// CustomerUpdateAction is one incremental customer update action.
type CustomerUpdateAction struct {
	Action      string   `json:"action"`
	FirstName   string   `json:"firstName,omitempty"`
	LastName    string   `json:"lastName,omitempty"`
	Email       string   `json:"email,omitempty"`
	DateOfBirth string   `json:"dateOfBirth,omitempty"`
	AddressID   string   `json:"addressId,omitempty"`
	Address     *Address `json:"address,omitempty"`
}

func SetFirstName(v string) CustomerUpdateAction {
	return CustomerUpdateAction{Action: "setFirstName", FirstName: v}
}

func SetLastName(v string) CustomerUpdateAction {
	return CustomerUpdateAction{Action: "setLastName", LastName: v}
}

func ChangeEmail(v string) CustomerUpdateAction {
	return CustomerUpdateAction{Action: "changeEmail", Email: v}
}

func SetDateOfBirth(v string) CustomerUpdateAction {
	return CustomerUpdateAction{Action: "setDateOfBirth", DateOfBirth: v}
}

func AddAddress(a Address) CustomerUpdateAction {
	return CustomerUpdateAction{Action: "addAddress", Address: &a}
}

func ChangeAddress(id string, a Address) CustomerUpdateAction {
	return CustomerUpdateAction{Action: "changeAddress", AddressID: id, Address: &a}
}

func RemoveAddress(id string) CustomerUpdateAction {
	return CustomerUpdateAction{Action: "removeAddress", AddressID: id}
}

func SetDefaultShippingAddress(id string) CustomerUpdateAction {
	return CustomerUpdateAction{Action: "setDefaultShippingAddress", AddressID: id}
}

func SetDefaultBillingAddress(id string) CustomerUpdateAction {
	return CustomerUpdateAction{Action: "setDefaultBillingAddress", AddressID: id}
}
