package sourcemap

// Base64-VLQ decoding for the "mappings" field of a source-map-v3 payload,
// per the format both the go-sourcemap library and chrome-vision's
// generated bindings assume but don't expose a reverse index for. This is
// the minimal amount of parsing the core does itself: spec.md §1 treats
// "the on-disk source-map *parser*" as an external collaborator, but
// §4.1's findGeneratedPosition/findOriginalPosition query operations are
// explicitly this component's job, and they need a bidirectional index
// go-sourcemap's Consumer (forward-only: generated -> original) doesn't
// provide.

const base64Chars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

var base64Decode [128]int8

func init() {
	for i := range base64Decode {
		base64Decode[i] = -1
	}
	for i, c := range base64Chars {
		base64Decode[c] = int8(i)
	}
}

// decodeVLQSegments decodes one "mappings" string into per-generated-line
// segments of decoded fields, each relative to the previous segment on
// the same field per the spec (generatedColumn resets every line; the
// source index, original line, original column and name index accumulate
// across the whole string).
func decodeVLQSegments(mappings string) ([][][]int, error) {
	var lines [][][]int
	var line [][]int

	sourceIdx, origLine, origCol, nameIdx := 0, 0, 0, 0
	genCol := 0

	i := 0
	for i < len(mappings) {
		switch mappings[i] {
		case ';':
			lines = append(lines, line)
			line = nil
			genCol = 0
			i++
			continue
		case ',':
			i++
			continue
		}

		fields := make([]int, 0, 5)
		first := true
		for {
			val, n, err := decodeVLQ(mappings[i:])
			if err != nil {
				return nil, err
			}
			i += n
			fields = append(fields, val)
			if first {
				genCol += val
				fields[0] = genCol
				first = false
			}
			if i >= len(mappings) || mappings[i] == ',' || mappings[i] == ';' {
				break
			}
		}

		switch len(fields) {
		case 1:
			line = append(line, []int{fields[0]})
		case 4:
			sourceIdx += fields[1]
			origLine += fields[2]
			origCol += fields[3]
			line = append(line, []int{fields[0], sourceIdx, origLine, origCol})
		case 5:
			sourceIdx += fields[1]
			origLine += fields[2]
			origCol += fields[3]
			nameIdx += fields[4]
			line = append(line, []int{fields[0], sourceIdx, origLine, origCol, nameIdx})
		}
	}
	lines = append(lines, line)
	return lines, nil
}

func decodeVLQ(s string) (value int, consumed int, err error) {
	shift := 0
	result := 0
	for consumed < len(s) {
		c := s[consumed]
		if c >= 128 {
			return 0, 0, errInvalidVLQ
		}
		digit := base64Decode[c]
		consumed++
		if digit < 0 {
			return 0, 0, errInvalidVLQ
		}
		cont := digit & 0x20
		result += int(digit&0x1f) << shift
		shift += 5
		if cont == 0 {
			break
		}
	}
	negate := result&1 == 1
	result >>= 1
	if negate {
		result = -result
	}
	return result, consumed, nil
}
