package quote

import (
	"encoding/binary"
)

// Marshal serializes an SGX/TDX Quote v4 header (SGXQuote4Header) into its binary representation typically found in a raw quote.
func (qh *SGXQuote4Header) Marshal() [HeaderSize]byte {
	var result [HeaderSize]byte
	binary.LittleEndian.PutUint16(result[0:2], qh.Version)
	binary.LittleEndian.PutUint16(result[2:4], qh.AttestationKeyType)
	binary.LittleEndian.PutUint32(result[4:8], qh.TEEType)
	binary.LittleEndian.PutUint32(result[8:12], qh.Reserved)
	copy(result[12:28], qh.VendorID[:])
	copy(result[28:48], qh.UserData[:])
	return result
}

// Marshal serializes a TDX TDReport (SGXReport2) into its binary representation typically found in a raw quote.
func (qr *SGXReport2) Marshal() [BodySize]byte {
	var result [BodySize]byte
	copy(result[0:16], qr.TCBSVN[:])
	copy(result[16:64], qr.MRSEAM[:])
	copy(result[64:112], qr.MRSIGNERSEAM[:])
	binary.LittleEndian.PutUint64(result[112:120], qr.SEAMAttributes)
	binary.LittleEndian.PutUint64(result[120:128], qr.TDAttributes)
	binary.LittleEndian.PutUint64(result[128:136], qr.XFAM)
	copy(result[136:184], qr.MRTD[:])
	copy(result[184:232], qr.MRCONFIG[:])
	copy(result[232:280], qr.MROWNER[:])
	copy(result[280:328], qr.MROWNERCONFIG[:])
	for i, rtmr := range qr.RTMR {
		copy(result[328+i*48:376+i*48], rtmr[:])
	}
	copy(result[520:584], qr.ReportData[:])
	return result
}

// Marshal serializes the signature head followed by its certification data.
func (s *Signature) Marshal() []byte {
	result := make([]byte, minSignatureSize+len(s.CertificationData))
	copy(result[0:64], s.Signature[:])
	copy(result[64:128], s.PublicKey[:])
	binary.LittleEndian.PutUint16(result[128:130], s.CertificationDataType)
	binary.LittleEndian.PutUint32(result[130:134], uint32(len(s.CertificationData)))
	copy(result[minSignatureSize:], s.CertificationData)
	return result
}

// Marshal serializes the complete quote. The signature length is derived from Signature.
func (q *SGXQuote4) Marshal() []byte {
	header := q.Header.Marshal()
	body := q.Body.Marshal()
	signature := q.Signature.Marshal()

	result := make([]byte, signatureOffset+len(signature))
	copy(result[0:HeaderSize], header[:])
	copy(result[HeaderSize:signatureLengthOffset], body[:])
	binary.LittleEndian.PutUint32(result[signatureLengthOffset:signatureOffset], uint32(len(signature)))
	copy(result[signatureOffset:], signature)
	return result
}
