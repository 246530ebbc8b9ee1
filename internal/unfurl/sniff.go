package unfurl

import "bytes"

// sniffMedia inspects a response's leading bytes for a known container
// signature and reports the embed kind ("image", "video", "audio") it
// belongs to, or "" if nothing matched. Used only when the server omitted
// (or lied about) Content-Type.
func sniffMedia(b []byte) string {
	switch {
	case bytes.HasPrefix(b, []byte("\x89PNG\r\n\x1a\n")):
		return "image"
	case bytes.HasPrefix(b, []byte("\xff\xd8\xff")):
		return "image"
	case bytes.HasPrefix(b, []byte("GIF87a")), bytes.HasPrefix(b, []byte("GIF89a")):
		return "image"
	case len(b) >= 12 && bytes.Equal(b[0:4], []byte("RIFF")) && bytes.Equal(b[8:12], []byte("WEBP")):
		return "image"
	case len(b) >= 12 && bytes.Equal(b[4:8], []byte("ftyp")):
		return "video"
	case bytes.HasPrefix(b, []byte("\x1a\x45\xdf\xa3")):
		return "video"
	case bytes.HasPrefix(b, []byte("OggS")):
		return "audio"
	case len(b) >= 12 && bytes.Equal(b[0:4], []byte("RIFF")) && bytes.Equal(b[8:12], []byte("WAVE")):
		return "audio"
	case bytes.HasPrefix(b, []byte("fLaC")):
		return "audio"
	case bytes.HasPrefix(b, []byte("ID3")):
		return "audio"
	case len(b) >= 2 && b[0] == 0xff && b[1]&0xe0 == 0xe0:
		return "audio"
	default:
		return ""
	}
}
