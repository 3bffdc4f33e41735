package destruction

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"custodia/internal/retention"
	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
)

// Certificate is the permanent record of a completed destruction: which
// containers were destroyed, under which policy terms, by whom, witnessed by
// whom. The checksum covers the substantive fields so any later tampering
// with a stored row is detectable against the issued document.
type Certificate struct {
	ID              id.CertificateID            `json:"id"`
	Number          string                      `json:"number"`
	RequestID       id.RequestID                `json:"request_id"`
	ContainerIDs    []id.ContainerID            `json:"container_ids"`
	PolicyVersionID id.VersionID                `json:"policy_version_id"`
	Method          retention.DestructionMethod `json:"method"`
	PerformedBy     string                      `json:"performed_by"`
	Witness         string                      `json:"witness"`
	DestroyedAt     time.Time                   `json:"destroyed_at"`
	Checksum        string                      `json:"checksum"`
	IssuedAt        time.Time                   `json:"issued_at"`
}

// NewCertificate issues a certificate for a completed destruction.
func NewCertificate(certID id.CertificateID, requestID id.RequestID, containerIDs []id.ContainerID,
	versionID id.VersionID, method retention.DestructionMethod, performedBy, witness string,
	destroyedAt, now time.Time) (*Certificate, error) {
	if performedBy == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "certificate requires the performing operator")
	}
	if witness == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "certificate requires a witness")
	}
	if len(containerIDs) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "certificate requires at least one container")
	}
	number, err := newCertificateNumber(now)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to allocate certificate number")
	}
	cert := &Certificate{
		ID:              certID,
		Number:          number,
		RequestID:       requestID,
		ContainerIDs:    containerIDs,
		PolicyVersionID: versionID,
		Method:          method,
		PerformedBy:     performedBy,
		Witness:         witness,
		DestroyedAt:     destroyedAt,
		IssuedAt:        now,
	}
	cert.Checksum = cert.computeChecksum()
	return cert, nil
}

// Verify recomputes the checksum against the stored fields.
func (c *Certificate) Verify() bool {
	return c.Checksum == c.computeChecksum()
}

func (c *Certificate) computeChecksum() string {
	containers := make([]string, len(c.ContainerIDs))
	for i, containerID := range c.ContainerIDs {
		containers[i] = containerID.String()
	}
	payload := fmt.Sprintf("%s|%s|%s|%s|%s|%s|%s|%s",
		c.Number,
		c.RequestID,
		strings.Join(containers, ","),
		c.PolicyVersionID,
		c.Method,
		c.PerformedBy,
		c.Witness,
		c.DestroyedAt.UTC().Format(time.RFC3339Nano),
	)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// newCertificateNumber produces a human-referenceable number of the form
// DC-2026-a1b2c3d4e5f6. The random component makes collisions negligible;
// the store's unique constraint on number is the backstop.
func newCertificateNumber(now time.Time) (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return fmt.Sprintf("DC-%d-%s", now.UTC().Year(), hex.EncodeToString(buf)), nil
}
