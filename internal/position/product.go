package position

// AssetID is a registry-scoped asset identifier.
type AssetID uint8

// Product identifies the asset triple (plus oracle) an option is written
// on. Packed into the 32-bit productID field of a token key:
//
//	bits  0..7   collateral asset id
//	bits  8..15  strike asset id
//	bits 16..23  underlying asset id
//	bits 24..31  oracle id
type Product struct {
	OracleID     uint8
	UnderlyingID AssetID
	StrikeID     AssetID
	CollateralID AssetID
}

// EncodeProduct packs the product into a 32-bit id.
func EncodeProduct(p Product) uint32 {
	return uint32(p.CollateralID) |
		uint32(p.StrikeID)<<8 |
		uint32(p.UnderlyingID)<<16 |
		uint32(p.OracleID)<<24
}

// DecodeProduct unpacks a 32-bit product id.
func DecodeProduct(id uint32) Product {
	return Product{
		OracleID:     uint8(id >> 24),
		UnderlyingID: AssetID(id >> 16),
		StrikeID:     AssetID(id >> 8),
		CollateralID: AssetID(id),
	}
}
