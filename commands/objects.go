// Package commands is the typed request/response registry layered over
// package wire and package securechannel: one function per device
// operation, each responsible for serializing its own request body and
// parsing its own response body per spec.md §4.5's per-command layouts.
package commands

import (
	"encoding/binary"

	"github.com/corehsm/yubihsm-go/command"
	"github.com/corehsm/yubihsm-go/hsmerror"
)

// ObjectInfo mirrors the device's get-object-info response (spec.md
// §4.5): every attribute of a stored object except its key material.
type ObjectInfo struct {
	Capabilities          command.Capability
	ObjectID              uint16
	Length                uint16
	Domains               command.Domain
	Type                  command.ObjectType
	Algorithm             command.Algorithm
	Sequence              uint8
	Origin                uint8
	Label                 command.Label
	DelegatedCapabilities command.Capability
}

const objectInfoWireSize = 8 + 2 + 2 + 2 + 1 + 1 + 1 + 1 + command.LabelLength + 8

func parseObjectInfo(payload []byte) (ObjectInfo, error) {
	if len(payload) != objectInfoWireSize {
		return ObjectInfo{}, hsmerror.Newf(hsmerror.KindProtocolError, "object-info payload is %d bytes, expected %d", len(payload), objectInfoWireSize)
	}
	var info ObjectInfo
	info.Capabilities = command.Capability(binary.BigEndian.Uint64(payload[0:8]))
	info.ObjectID = binary.BigEndian.Uint16(payload[8:10])
	info.Length = binary.BigEndian.Uint16(payload[10:12])
	info.Domains = command.Domain(binary.BigEndian.Uint16(payload[12:14]))
	info.Type = command.ObjectType(payload[14])
	info.Algorithm = command.Algorithm(payload[15])
	info.Sequence = payload[16]
	info.Origin = payload[17]
	copy(info.Label[:], payload[18:18+command.LabelLength])
	info.DelegatedCapabilities = command.Capability(binary.BigEndian.Uint64(payload[18+command.LabelLength:]))
	return info, nil
}

// ObjectHandle identifies an object entry returned by ListObjects: just
// enough to address it with a follow-up GetObjectInfo/DeleteObject call.
type ObjectHandle struct {
	ObjectID   uint16
	ObjectType command.ObjectType
	Sequence   uint8
}

// listObjectsFilterTag is the one-byte TLV tag preceding each optional
// list-objects filter term (spec.md §4.5 / original device firmware).
type listObjectsFilterTag uint8

const (
	filterTagID           listObjectsFilterTag = 0x01
	filterTagType         listObjectsFilterTag = 0x02
	filterTagDomains      listObjectsFilterTag = 0x03
	filterTagCapabilities listObjectsFilterTag = 0x04
	filterTagAlgorithm    listObjectsFilterTag = 0x05
	filterTagLabel        listObjectsFilterTag = 0x06
)

// ListFilter narrows a ListObjects call. Filters compose: every supplied
// term must match. With no filters, ListObjects enumerates every object
// visible to the session's authentication key.
type ListFilter func() (listObjectsFilterTag, []byte)

// WithObjectID filters to a single object id.
func WithObjectID(id uint16) ListFilter {
	return func() (listObjectsFilterTag, []byte) {
		b := make([]byte, 2)
		binary.BigEndian.PutUint16(b, id)
		return filterTagID, b
	}
}

// WithObjectType filters to one object type.
func WithObjectType(t command.ObjectType) ListFilter {
	return func() (listObjectsFilterTag, []byte) { return filterTagType, []byte{byte(t)} }
}

// WithDomains filters to objects visible in at least one of domains.
func WithDomains(domains command.Domain) ListFilter {
	return func() (listObjectsFilterTag, []byte) {
		b := make([]byte, 2)
		binary.BigEndian.PutUint16(b, uint16(domains))
		return filterTagDomains, b
	}
}

// WithCapabilities filters to objects carrying every one of capabilities.
func WithCapabilities(capabilities command.Capability) ListFilter {
	return func() (listObjectsFilterTag, []byte) {
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, uint64(capabilities))
		return filterTagCapabilities, b
	}
}

// WithAlgorithm filters to one algorithm.
func WithAlgorithm(alg command.Algorithm) ListFilter {
	return func() (listObjectsFilterTag, []byte) { return filterTagAlgorithm, []byte{byte(alg)} }
}

// WithLabel filters to an exact label match.
func WithLabel(label command.Label) ListFilter {
	return func() (listObjectsFilterTag, []byte) { return filterTagLabel, label[:] }
}

func encodeListFilters(filters []ListFilter) []byte {
	body := make([]byte, 0, len(filters)*4)
	for _, f := range filters {
		tag, value := f()
		body = append(body, byte(tag))
		body = append(body, value...)
	}
	return body
}

func parseObjectHandles(payload []byte) ([]ObjectHandle, error) {
	const entrySize = 4
	if len(payload)%entrySize != 0 {
		return nil, hsmerror.Newf(hsmerror.KindProtocolError, "list-objects payload is %d bytes, not a multiple of %d", len(payload), entrySize)
	}
	handles := make([]ObjectHandle, 0, len(payload)/entrySize)
	for i := 0; i < len(payload); i += entrySize {
		handles = append(handles, ObjectHandle{
			ObjectID:   binary.BigEndian.Uint16(payload[i : i+2]),
			ObjectType: command.ObjectType(payload[i+2]),
			Sequence:   payload[i+3],
		})
	}
	return handles, nil
}
