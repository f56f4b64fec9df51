package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// idNamespace is the UUIDv5 namespace for all derived identifiers. Deriving
// ids from (tenant, natural key) makes re-ingestion of the same logical
// artifact idempotent: the same input always maps to the same row.
var idNamespace = uuid.NewSHA1(uuid.NameSpaceDNS, []byte("p8fs.io"))

// FileID derives the stable id for a file from its tenant and object URI.
func FileID(tenantID, uri string) uuid.UUID {
	return uuid.NewSHA1(idNamespace, []byte(tenantID+"|"+uri))
}

// ResourceID derives the stable id for a content chunk. The ordinal is part
// of the key so that re-ingesting a file replaces chunk N in place.
func ResourceID(tenantID, uri string, ordinal int) uuid.UUID {
	return uuid.NewSHA1(idNamespace, []byte(fmt.Sprintf("%s|%s#chunk_%d", tenantID, uri, ordinal)))
}

// EmbeddingID derives the sidecar row id for one (entity, field, provider)
// triple. Recomputing an embedding overwrites rather than appends.
func EmbeddingID(entityID, fieldName, provider string) uuid.UUID {
	return uuid.NewSHA1(idNamespace, []byte(entityID+"|"+fieldName+"|"+provider))
}

// TenantIDFromEmail derives the tenant identifier from an email address.
// The "tenant-" prefix is load-bearing: token verification treats a sub
// with this prefix as a device-flow principal (see auth package).
func TenantIDFromEmail(email string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(email))))
	return "tenant-" + hex.EncodeToString(sum[:])[:16]
}

// DeviceID derives a device identifier from its registration attributes.
// pubKeyPrefix is a short prefix of the encoded device public key; including
// it means re-registering with a new key yields a new device.
func DeviceID(email, deviceName, deviceType, platform, pubKeyPrefix string) string {
	material := strings.Join([]string{
		strings.ToLower(strings.TrimSpace(email)),
		deviceName,
		deviceType,
		platform,
		pubKeyPrefix,
	}, "|")
	sum := sha256.Sum256([]byte(material))
	return "device-" + hex.EncodeToString(sum[:])[:16]
}
