package bridge

import "github.com/sigurn/crc16"

var crcTable = crc16.MakeTable(crc16.CRC16_CCITT_FALSE)

// CRC16 calculates the CRC-16/CCITT-FALSE checksum of d.
func CRC16(d []byte) uint16 {
	return crc16.Checksum(d, crcTable)
}
