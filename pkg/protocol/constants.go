package protocol

// Wire layout shared by both directions:
//
//	Prefix (1) | Kind (1) | Payload (N) | Checksum (1)
//
// Telemetry (device -> host): N = 2, value*10 as big-endian uint16.
// Command (host -> device):   N = 3, command byte + big-endian uint16 argument.
const (
	Prefix = 0x53

	HeaderSize   = 2
	ChecksumSize = 1

	TelemetryPayloadSize = 2
	CommandPayloadSize   = 3

	TelemetryFrameSize = HeaderSize + TelemetryPayloadSize + ChecksumSize // 5 bytes
	CommandFrameSize   = HeaderSize + CommandPayloadSize + ChecksumSize   // 6 bytes

	// ValueScale is the fixed-point factor for telemetry values and TDS reference arguments.
	ValueScale = 10.0

	// Serial line settings. Fixed, never negotiated.
	BaudRate = 115200
	DataBits = 8
)
