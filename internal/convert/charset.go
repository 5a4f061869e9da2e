package convert

import (
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/encoding/unicode"
)

// mysqlCharsetEncoding maps a subset of MySQL charset names to Go
// encodings, mirroring converter.py's CHARSET_MYSQL_TO_PYTHON table. Binary
// and UTF-8 family charsets need no transcoding and are handled by the
// caller before consulting this table.
var mysqlCharsetEncoding = map[string]encoding.Encoding{
	"latin1":  charmap.Windows1252,
	"latin2":  charmap.ISO8859_2,
	"greek":   charmap.ISO8859_7,
	"hebrew":  charmap.ISO8859_8,
	"cp1250":  charmap.Windows1250,
	"cp1251":  charmap.Windows1251,
	"cp1256":  charmap.Windows1256,
	"cp1257":  charmap.Windows1257,
	"koi8r":   charmap.KOI8R,
	"koi8u":   charmap.KOI8U,
	"gbk":     simplifiedchinese.GBK,
	"gb2312":  simplifiedchinese.HZGB2312,
	"gb18030": simplifiedchinese.GB18030,
	"big5":    traditionalchinese.Big5,
	"sjis":    japanese.ShiftJIS,
	"cp932":   japanese.ShiftJIS,
	"euckr":   korean.EUCKR,
	"ucs2":    unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM),
}

// ConvertBytes transcodes raw column bytes from the given MySQL charset
// into a Go string, falling back to a verbatim UTF-8 interpretation for
// charsets already UTF-8-compatible or unrecognized, mirroring
// converter.py's convert_bytes().
func ConvertBytes(charset string, data []byte) string {
	switch charset {
	case "", "binary", "utf8", "utf8mb3", "utf8mb4", "ascii":
		return string(data)
	}
	enc, ok := mysqlCharsetEncoding[charset]
	if !ok {
		return string(data)
	}
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return string(data)
	}
	return string(out)
}
