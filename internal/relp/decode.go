package relp

import "strconv"

// maxNumDigits caps the TXNR and DATALEN digit runs. librelp uses at
// most nine digits (txnr wraps at 999999999).
const maxNumDigits = 9

// Decode scans buf for one complete frame.
//
// On success it returns the frame and the number of bytes consumed; the
// caller discards the consumed prefix and calls Decode again, so
// pipelined frames in one buffer are peeled off one at a time.
//
// If buf holds the valid start of a frame but not all of it yet, Decode
// returns a zero Frame, zero consumed and a nil error; the caller keeps
// the buffer and extends it on the next read.
//
// A malformed header, a declared length over limits.MaxDataBytes, or a
// missing trailer after the declared data bytes returns a *FramingError
// carrying the offending byte offset, plus the transaction number when
// it was parsed before framing broke.
//
// The returned frame's Data is copied out of buf, so the caller may
// reuse the buffer.
func Decode(buf []byte, limits Limits) (Frame, int, error) {
	var f Frame

	// TXNR
	i := 0
	for {
		if i >= len(buf) {
			return Frame{}, 0, nil
		}
		c := buf[i]
		if c == ' ' {
			break
		}
		if c < '0' || c > '9' {
			return Frame{}, 0, framingErr(i, "non-numeric transaction number")
		}
		i++
		if i > maxNumDigits {
			return Frame{}, 0, framingErr(i, "transaction number too long")
		}
	}
	if i == 0 {
		return Frame{}, 0, framingErr(0, "empty transaction number")
	}
	txnr, err := strconv.ParseUint(string(buf[:i]), 10, 64)
	if err != nil {
		return Frame{}, 0, framingErr(0, "invalid transaction number")
	}
	f.Txnr = txnr
	i++

	// COMMAND
	cmdStart := i
	for {
		if i >= len(buf) {
			return Frame{}, 0, nil
		}
		c := buf[i]
		if c == ' ' {
			break
		}
		if c <= ' ' || c >= 0x7f {
			return Frame{}, 0, framingErrTxnr(f.Txnr, i, "invalid command byte")
		}
		i++
		if i-cmdStart > limits.MaxCommandLen {
			return Frame{}, 0, framingErrTxnr(f.Txnr, i, "command token too long")
		}
	}
	if i == cmdStart {
		return Frame{}, 0, framingErrTxnr(f.Txnr, i, "empty command")
	}
	f.Command = string(buf[cmdStart:i])
	i++

	// DATALEN, terminated by SP before data or by LF when zero. librelp
	// emits "LEN\n" instead of "LEN \n" for dataless frames.
	lenStart := i
	for {
		if i >= len(buf) {
			return Frame{}, 0, nil
		}
		c := buf[i]
		if c == ' ' || c == '\n' {
			break
		}
		if c < '0' || c > '9' {
			return Frame{}, 0, framingErrTxnr(f.Txnr, i, "non-numeric data length")
		}
		i++
		if i-lenStart > maxNumDigits {
			return Frame{}, 0, framingErrTxnr(f.Txnr, i, "data length too long")
		}
	}
	if i == lenStart {
		return Frame{}, 0, framingErrTxnr(f.Txnr, i, "empty data length")
	}
	dataLen, err := strconv.Atoi(string(buf[lenStart:i]))
	if err != nil {
		return Frame{}, 0, framingErrTxnr(f.Txnr, lenStart, "invalid data length")
	}
	if limits.MaxDataBytes > 0 && dataLen > limits.MaxDataBytes {
		return Frame{}, 0, framingErrTxnr(f.Txnr, lenStart, "declared data length exceeds maximum")
	}

	if buf[i] == '\n' {
		if dataLen != 0 {
			return Frame{}, 0, framingErrTxnr(f.Txnr, i, "missing data separator")
		}
		f.Data = []byte{}
		return f, i + 1, nil
	}
	i++

	// DATA and trailer. Embedded newlines in data are payload bytes,
	// not terminators, so the trailer is positional.
	if len(buf) < i+dataLen+1 {
		return Frame{}, 0, nil
	}
	if buf[i+dataLen] != '\n' {
		return Frame{}, 0, framingErrTxnr(f.Txnr, i+dataLen, "frame not terminated after declared data length")
	}
	f.Data = make([]byte, dataLen)
	copy(f.Data, buf[i:i+dataLen])
	return f, i + dataLen + 1, nil
}
