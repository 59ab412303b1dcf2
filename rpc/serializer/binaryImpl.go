package serializer

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/dMap/rpc/common"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and efficiency
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using a custom binary format
type binarySerializerImpl struct {
}

// Bit flags to indicate which optional fields are present
const (
	hasName        uint16 = 1 << 0
	hasKey         uint16 = 1 << 1
	hasValue       uint16 = 1 << 2
	hasVersion     uint16 = 1 << 3
	hasPrevValue   uint16 = 1 << 4
	hasPrevVersion uint16 = 1 << 5
	hasTTL         uint16 = 1 << 6
	hasTimeout     uint16 = 1 << 7
	hasCount       uint16 = 1 << 8
	hasOk          uint16 = 1 << 9
	hasStatus      uint16 = 1 << 10
	hasErr         uint16 = 1 << 11
	hasEvType      uint16 = 1 << 12
	hasHeader      uint16 = 1 << 13
	hasHeaders     uint16 = 1 << 14
)

// headerSize is the fixed wire size of a common.Header
const headerSize = 4 + 8 + 8

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	// Calculate total size needed
	totalSize := b.sizeBytes(msg)
	result := make([]byte, totalSize)

	// Write message type
	result[0] = byte(msg.MsgType)

	// Initialize flags
	var flags uint16 = 0

	// Set position for writing (after MsgType and flags)
	pos := 3

	// Handle Name
	if msg.Name != "" {
		flags |= hasName
		pos = writeString(result, pos, msg.Name)
	}

	// Handle Key
	if msg.Key != "" {
		flags |= hasKey
		pos = writeString(result, pos, msg.Key)
	}

	// Handle Value
	if msg.Value != nil {
		flags |= hasValue
		pos = writeBytes(result, pos, msg.Value)
	}

	// Handle Version (stored as two's complement, -1 is a valid condition)
	if msg.Version != 0 {
		flags |= hasVersion
		binary.BigEndian.PutUint64(result[pos:pos+8], uint64(msg.Version))
		pos += 8
	}

	// Handle PrevValue
	if msg.PrevValue != nil {
		flags |= hasPrevValue
		pos = writeBytes(result, pos, msg.PrevValue)
	}

	// Handle PrevVersion
	if msg.PrevVersion != 0 {
		flags |= hasPrevVersion
		binary.BigEndian.PutUint64(result[pos:pos+8], uint64(msg.PrevVersion))
		pos += 8
	}

	// Handle TTLMillis
	if msg.TTLMillis > 0 {
		flags |= hasTTL
		binary.BigEndian.PutUint64(result[pos:pos+8], msg.TTLMillis)
		pos += 8
	}

	// Handle TimeoutMillis
	if msg.TimeoutMillis > 0 {
		flags |= hasTimeout
		binary.BigEndian.PutUint64(result[pos:pos+8], msg.TimeoutMillis)
		pos += 8
	}

	// Handle Count
	if msg.Count > 0 {
		flags |= hasCount
		binary.BigEndian.PutUint64(result[pos:pos+8], msg.Count)
		pos += 8
	}

	// Handle Ok
	if msg.Ok {
		flags |= hasOk
		result[pos] = 1
		pos += 1
	}

	// Handle Status
	if msg.Status != common.StatusOK {
		flags |= hasStatus
		result[pos] = byte(msg.Status)
		pos += 1
	}

	// Handle Err
	if msg.Err != "" {
		flags |= hasErr
		pos = writeString(result, pos, msg.Err)
	}

	// Handle EvType
	if msg.EvType != common.EventTInserted {
		flags |= hasEvType
		result[pos] = byte(msg.EvType)
		pos += 1
	}

	// Handle Header
	if msg.Header != nil {
		flags |= hasHeader
		pos = writeHeader(result, pos, *msg.Header)
	}

	// Handle Headers
	if msg.Headers != nil {
		flags |= hasHeaders
		binary.BigEndian.PutUint32(result[pos:pos+4], uint32(len(msg.Headers)))
		pos += 4
		for _, h := range msg.Headers {
			pos = writeHeader(result, pos, h)
		}
	}

	// Set flags after knowing which fields are present
	binary.BigEndian.PutUint16(result[1:3], flags)

	return result, nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	// Check minimum size (MsgType + flags)
	if len(data) < 3 {
		return fmt.Errorf("data too short for message header")
	}

	// Read message type
	msg.MsgType = common.MessageType(data[0])

	// Read flags
	flags := binary.BigEndian.Uint16(data[1:3])

	// Initialize read position
	pos := 3
	var err error

	// Read Name if present
	if flags&hasName != 0 {
		if msg.Name, pos, err = readString(data, pos, "name"); err != nil {
			return err
		}
	} else {
		msg.Name = ""
	}

	// Read Key if present
	if flags&hasKey != 0 {
		if msg.Key, pos, err = readString(data, pos, "key"); err != nil {
			return err
		}
	} else {
		msg.Key = ""
	}

	// Read Value if present
	if flags&hasValue != 0 {
		if msg.Value, pos, err = readBytes(data, pos, msg.Value, "value"); err != nil {
			return err
		}
	} else {
		msg.Value = nil
	}

	// Read Version if present
	if flags&hasVersion != 0 {
		if pos+8 > len(data) {
			return fmt.Errorf("data too short for version")
		}
		msg.Version = int64(binary.BigEndian.Uint64(data[pos : pos+8]))
		pos += 8
	} else {
		msg.Version = 0
	}

	// Read PrevValue if present
	if flags&hasPrevValue != 0 {
		if msg.PrevValue, pos, err = readBytes(data, pos, msg.PrevValue, "prev value"); err != nil {
			return err
		}
	} else {
		msg.PrevValue = nil
	}

	// Read PrevVersion if present
	if flags&hasPrevVersion != 0 {
		if pos+8 > len(data) {
			return fmt.Errorf("data too short for prev version")
		}
		msg.PrevVersion = int64(binary.BigEndian.Uint64(data[pos : pos+8]))
		pos += 8
	} else {
		msg.PrevVersion = 0
	}

	// Read TTLMillis if present
	if flags&hasTTL != 0 {
		if pos+8 > len(data) {
			return fmt.Errorf("data too short for ttl")
		}
		msg.TTLMillis = binary.BigEndian.Uint64(data[pos : pos+8])
		pos += 8
	} else {
		msg.TTLMillis = 0
	}

	// Read TimeoutMillis if present
	if flags&hasTimeout != 0 {
		if pos+8 > len(data) {
			return fmt.Errorf("data too short for timeout")
		}
		msg.TimeoutMillis = binary.BigEndian.Uint64(data[pos : pos+8])
		pos += 8
	} else {
		msg.TimeoutMillis = 0
	}

	// Read Count if present
	if flags&hasCount != 0 {
		if pos+8 > len(data) {
			return fmt.Errorf("data too short for count")
		}
		msg.Count = binary.BigEndian.Uint64(data[pos : pos+8])
		pos += 8
	} else {
		msg.Count = 0
	}

	// Read Ok if present
	if flags&hasOk != 0 {
		if pos+1 > len(data) {
			return fmt.Errorf("data too short for ok flag")
		}
		msg.Ok = data[pos] != 0
		pos += 1
	} else {
		msg.Ok = false
	}

	// Read Status if present
	if flags&hasStatus != 0 {
		if pos+1 > len(data) {
			return fmt.Errorf("data too short for status")
		}
		msg.Status = common.Status(data[pos])
		pos += 1
	} else {
		msg.Status = common.StatusOK
	}

	// Read Err if present
	if flags&hasErr != 0 {
		if msg.Err, pos, err = readString(data, pos, "error"); err != nil {
			return err
		}
	} else {
		msg.Err = ""
	}

	// Read EvType if present
	if flags&hasEvType != 0 {
		if pos+1 > len(data) {
			return fmt.Errorf("data too short for event type")
		}
		msg.EvType = common.EventType(data[pos])
		pos += 1
	} else {
		msg.EvType = common.EventTInserted
	}

	// Read Header if present
	if flags&hasHeader != 0 {
		var h common.Header
		if h, pos, err = readHeader(data, pos); err != nil {
			return err
		}
		msg.Header = &h
	} else {
		msg.Header = nil
	}

	// Read Headers if present
	if flags&hasHeaders != 0 {
		if pos+4 > len(data) {
			return fmt.Errorf("data too short for header count")
		}
		count := binary.BigEndian.Uint32(data[pos : pos+4])
		pos += 4

		if pos+int(count)*headerSize > len(data) {
			return fmt.Errorf("data too short for %d headers", count)
		}

		msg.Headers = make([]common.Header, count)
		for i := range msg.Headers {
			if msg.Headers[i], pos, err = readHeader(data, pos); err != nil {
				return err
			}
		}
	} else {
		msg.Headers = nil
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// sizeBytes calculates the total size needed for serialization
func (b binarySerializerImpl) sizeBytes(msg common.Message) int {
	// 1 byte for MsgType + 2 bytes for flags
	size := 3

	// Add sizes for fields that require length encoding
	if msg.Name != "" {
		size += 4 + len(msg.Name)
	}
	if msg.Key != "" {
		size += 4 + len(msg.Key)
	}
	if msg.Value != nil {
		size += 4 + len(msg.Value)
	}
	if msg.Version != 0 {
		size += 8
	}
	if msg.PrevValue != nil {
		size += 4 + len(msg.PrevValue)
	}
	if msg.PrevVersion != 0 {
		size += 8
	}
	if msg.TTLMillis > 0 {
		size += 8
	}
	if msg.TimeoutMillis > 0 {
		size += 8
	}
	if msg.Count > 0 {
		size += 8
	}
	if msg.Ok {
		size += 1
	}
	if msg.Status != common.StatusOK {
		size += 1
	}
	if msg.Err != "" {
		size += 4 + len(msg.Err)
	}
	if msg.EvType != common.EventTInserted {
		size += 1
	}
	if msg.Header != nil {
		size += headerSize
	}
	if msg.Headers != nil {
		size += 4 + len(msg.Headers)*headerSize
	}

	return size
}

// writeString writes a length prefixed string and returns the new position
func writeString(dst []byte, pos int, s string) int {
	binary.BigEndian.PutUint32(dst[pos:pos+4], uint32(len(s)))
	pos += 4
	copy(dst[pos:pos+len(s)], s)
	return pos + len(s)
}

// writeBytes writes a length prefixed byte slice and returns the new position
func writeBytes(dst []byte, pos int, b []byte) int {
	binary.BigEndian.PutUint32(dst[pos:pos+4], uint32(len(b)))
	pos += 4
	if len(b) > 0 {
		copy(dst[pos:pos+len(b)], b)
	}
	return pos + len(b)
}

// writeHeader writes the fixed size header layout and returns the new position
func writeHeader(dst []byte, pos int, h common.Header) int {
	binary.BigEndian.PutUint32(dst[pos:pos+4], h.PartitionID)
	binary.BigEndian.PutUint64(dst[pos+4:pos+12], h.SessionID)
	binary.BigEndian.PutUint64(dst[pos+12:pos+20], h.Index)
	return pos + headerSize
}

// readString reads a length prefixed string
func readString(data []byte, pos int, field string) (string, int, error) {
	if pos+4 > len(data) {
		return "", pos, fmt.Errorf("data too short for %s length", field)
	}
	l := binary.BigEndian.Uint32(data[pos : pos+4])
	pos += 4

	if pos+int(l) > len(data) {
		return "", pos, fmt.Errorf("data too short for %s data", field)
	}
	return string(data[pos : pos+int(l)]), pos + int(l), nil
}

// readBytes reads a length prefixed byte slice, reusing dst if it is large enough
func readBytes(data []byte, pos int, dst []byte, field string) ([]byte, int, error) {
	if pos+4 > len(data) {
		return nil, pos, fmt.Errorf("data too short for %s length", field)
	}
	l := binary.BigEndian.Uint32(data[pos : pos+4])
	pos += 4

	if pos+int(l) > len(data) {
		return nil, pos, fmt.Errorf("data too short for %s data", field)
	}

	// Allocate only if needed
	if dst == nil || cap(dst) < int(l) {
		dst = make([]byte, l)
	} else {
		dst = dst[:l]
	}
	if l > 0 {
		copy(dst, data[pos:pos+int(l)])
	}
	return dst, pos + int(l), nil
}

// readHeader reads the fixed size header layout
func readHeader(data []byte, pos int) (common.Header, int, error) {
	if pos+headerSize > len(data) {
		return common.Header{}, pos, fmt.Errorf("data too short for header")
	}
	h := common.Header{
		PartitionID: binary.BigEndian.Uint32(data[pos : pos+4]),
		SessionID:   binary.BigEndian.Uint64(data[pos+4 : pos+12]),
		Index:       binary.BigEndian.Uint64(data[pos+12 : pos+20]),
	}
	return h, pos + headerSize, nil
}
