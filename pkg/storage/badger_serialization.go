package storage

import (
	"encoding/json"
	"fmt"

	"github.com/captian-latiao/NestStupidHome-sub000/pkg/household"
)

// encodeHousehold serializes a household record to JSON.
func encodeHousehold(h household.Household) ([]byte, error) {
	data, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("marshaling household: %w", err)
	}
	return data, nil
}

// decodeHousehold deserializes a household record from JSON.
func decodeHousehold(data []byte) (household.Household, error) {
	var h household.Household
	if err := json.Unmarshal(data, &h); err != nil {
		return household.Household{}, fmt.Errorf("unmarshaling household: %w: %v", ErrInvalidData, err)
	}
	return h, nil
}

func encodeCredential(c Credential) ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshaling credential: %w", err)
	}
	return data, nil
}

func decodeCredential(data []byte) (Credential, error) {
	var c Credential
	if err := json.Unmarshal(data, &c); err != nil {
		return Credential{}, fmt.Errorf("unmarshaling credential: %w: %v", ErrInvalidData, err)
	}
	return c, nil
}
