package x509util

import (
	"bytes"
	"encoding/asn1"
	"encoding/pem"
	"fmt"

	"github.com/cloudflare/cfssl/crypto/pkcs7"
	"github.com/valyala/bytebufferpool"
)

// PEM block types.
const (
	PEMCertificate        = "CERTIFICATE"
	PEMCertificateRequest = "CERTIFICATE REQUEST"
	pemNewCSR             = "NEW CERTIFICATE REQUEST"
	pemPKCS7              = "PKCS7"
)

var pemBuffers bytebufferpool.Pool

// Codec encodes DER objects as PEM unless OutputDER is set.
type Codec struct {
	OutputDER bool
}

// Encode returns der unchanged in DER mode, else a single PEM block.
func (c Codec) Encode(blockType string, der []byte) []byte {
	if c.OutputDER {
		return der
	}
	return pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
}

// EncodeChain encodes certificates leaf first. DER mode concatenates the
// encodings.
func (c Codec) EncodeChain(ders [][]byte) []byte {
	buf := pemBuffers.Get()
	defer pemBuffers.Put(buf)

	for _, der := range ders {
		if c.OutputDER {
			_, _ = buf.Write(der)
			continue
		}
		_ = pem.Encode(buf, &pem.Block{Type: PEMCertificate, Bytes: der})
	}
	return append([]byte(nil), buf.B...)
}

// IsPEM reports whether data holds at least one PEM block.
func IsPEM(data []byte) bool {
	block, _ := pem.Decode(data)
	return block != nil
}

// DecodeCertificates returns the DER of every certificate in data. Accepted
// inputs are PEM with CERTIFICATE or PKCS7 blocks, concatenated DER
// certificates, and a DER PKCS#7 bundle. Other PEM blocks are skipped.
func DecodeCertificates(data []byte) ([][]byte, error) {
	if IsPEM(data) {
		var out [][]byte
		rest := data
		for {
			var block *pem.Block
			block, rest = pem.Decode(rest)
			if block == nil {
				break
			}
			switch block.Type {
			case PEMCertificate:
				out = append(out, block.Bytes)
			case pemPKCS7:
				certs, err := decodePKCS7(block.Bytes)
				if err != nil {
					return nil, err
				}
				out = append(out, certs...)
			}
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("%w: no certificate PEM block", ErrInvalidCertificate)
		}
		return out, nil
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrInvalidCertificate)
	}
	if certs, err := splitDER(data); err == nil {
		return certs, nil
	}
	return decodePKCS7(data)
}

// splitDER splits concatenated DER certificates. A PKCS#7 ContentInfo is
// rejected so that the caller can fall back to the bundle decoder.
func splitDER(data []byte) ([][]byte, error) {
	var out [][]byte
	for rest := data; len(rest) > 0; {
		var raw asn1.RawValue
		next, err := asn1.Unmarshal(rest, &raw)
		if err != nil {
			return nil, err
		}
		var first asn1.RawValue
		if _, err := asn1.Unmarshal(raw.Bytes, &first); err != nil || first.Tag != asn1.TagSequence {
			return nil, fmt.Errorf("%w: not a certificate", ErrInvalidCertificate)
		}
		out = append(out, rest[:len(rest)-len(next)])
		rest = next
	}
	return out, nil
}

func decodePKCS7(der []byte) ([][]byte, error) {
	p, err := pkcs7.ParsePKCS7(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
	}
	if p.ContentInfo != "SignedData" || len(p.Content.SignedData.Certificates) == 0 {
		return nil, fmt.Errorf("%w: no certificates in PKCS#7 bundle", ErrInvalidCertificate)
	}
	out := make([][]byte, 0, len(p.Content.SignedData.Certificates))
	for _, c := range p.Content.SignedData.Certificates {
		out = append(out, c.Raw)
	}
	return out, nil
}

// DecodeCSR returns the DER of a PEM or DER certificate request.
func DecodeCSR(data []byte) ([]byte, error) {
	if !IsPEM(data) {
		if len(bytes.TrimSpace(data)) == 0 {
			return nil, fmt.Errorf("%w: empty input", ErrInvalidCSR)
		}
		return data, nil
	}
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return nil, fmt.Errorf("%w: no CERTIFICATE REQUEST PEM block", ErrInvalidCSR)
		}
		if block.Type == PEMCertificateRequest || block.Type == pemNewCSR {
			return block.Bytes, nil
		}
	}
}
