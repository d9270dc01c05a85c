// Package definition loads and validates the category definitions held in a
// repository checkout.
//
// Each file under the definitions directory (*.yaml, *.yml or *.json) holds
// one Category. Files are decoded with yaml.v3, checked against an embedded
// CUE schema, then cross-checked as a whole (unique ids, known parents).
// Loading is all-or-nothing: a single bad file rejects the whole Set.
package definition
