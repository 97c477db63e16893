package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/travelpay/backend/internal/http/dto"
	"github.com/travelpay/backend/internal/oracle"
)

type OracleHandler struct {
	signer *oracle.Signer
}

func NewOracleHandler(signer *oracle.Signer) *OracleHandler {
	return &OracleHandler{signer: signer}
}

// GetOracleKey publishes the verification key. Clients pin this and verify
// every response offline.
func (h *OracleHandler) GetOracleKey(c *fiber.Ctx) error {
	return c.JSON(dto.OracleKeyResponse{
		PublicKey:  h.signer.PublicKeyHex(),
		Algorithm:  "ed25519",
		SignedOver: "sha256_hex(canonical_json(data)) + \":\" + unix_timestamp",
	})
}
