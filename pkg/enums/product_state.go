package enums

// ProductState is the derived lifecycle position of a product.
type ProductState string

const (
	ProductStateAvailable ProductState = "available"
	ProductStateReserved  ProductState = "reserved"
	ProductStateSold      ProductState = "sold"
	ProductStateDeleted   ProductState = "deleted"
	// ProductStateMissing is reported for ids that match no product.
	ProductStateMissing ProductState = "not_found"
)

func (s ProductState) String() string {
	return string(s)
}

// Terminal reports whether no further reservation transition is possible.
func (s ProductState) Terminal() bool {
	return s == ProductStateSold
}
