package relp

import "strconv"

// Encode serializes a frame to its wire form. Frames with empty data
// omit the data segment entirely, e.g. "3 close 0\n".
func Encode(f Frame) []byte {
	// txnr + sp + cmd + sp + len digits + sp + data + lf
	buf := make([]byte, 0, maxNumDigits+1+len(f.Command)+1+maxNumDigits+1+len(f.Data)+1)
	buf = strconv.AppendUint(buf, f.Txnr, 10)
	buf = append(buf, ' ')
	buf = append(buf, f.Command...)
	buf = append(buf, ' ')
	buf = strconv.AppendInt(buf, int64(len(f.Data)), 10)
	if len(f.Data) > 0 {
		buf = append(buf, ' ')
		buf = append(buf, f.Data...)
	}
	buf = append(buf, '\n')
	return buf
}
