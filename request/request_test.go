package request

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestParseValid(t *testing.T) {
	tcs := []struct {
		Msg    string
		Expect *Request
	}{
		{Msg: "-l 30021", Expect: &Request{Command: List, DataPort: 30021}},
		{Msg: "-g file.txt 30021", Expect: &Request{Command: Get, Filename: "file.txt", DataPort: 30021}},
		{Msg: "-g a 1", Expect: &Request{Command: Get, Filename: "a", DataPort: 1}},
		{Msg: "-l 65535", Expect: &Request{Command: List, DataPort: 65535}},
		{Msg: "-l 0080", Expect: &Request{Command: List, DataPort: 80}},
		{Msg: "-l 30021\n", Expect: &Request{Command: List, DataPort: 30021}},
		{Msg: "-g x.bin 4000\r\n", Expect: &Request{Command: Get, Filename: "x.bin", DataPort: 4000}},
		{Msg: "-g  spaced   4000", Expect: &Request{Command: Get, Filename: "spaced", DataPort: 4000}},
	}

	for _, tc := range tcs {
		t.Run(tc.Msg, func(t *testing.T) {
			got, err := Parse(tc.Msg)
			require.Nil(t, err)
			require.Equal(t, tc.Expect, got)
		})
	}
}

func TestParseInvalid(t *testing.T) {
	msgs := []string{
		"",
		" ",
		"-l",
		"-g",
		"-x foo 123",
		"-x 123",
		"-l abc",
		"-l 12a",
		"-l -12",
		"-l +12",
		"-g file abc",
		"-l file 123",
		"-g 123",
		"-g a b 123",
		"-l 1 2 3",
		"-l 0",
		"-l 65536",
		"-l 99999999999999999999",
		"l 123",
		"-L 123",
		"-l\t123",
	}

	for _, msg := range msgs {
		t.Run(msg, func(t *testing.T) {
			req, err := Parse(msg)
			require.Nil(t, req)
			require.NotNil(t, err)
			require.True(t, IsInvalid(err))
			require.Equal(t, ErrInvalid, errors.Cause(err))
		})
	}
}

func TestRequestString(t *testing.T) {
	for _, msg := range []string{"-l 1234", "-g some.file 4321"} {
		req, err := Parse(msg)
		require.Nil(t, err)
		require.Equal(t, msg, req.String())

		again, err := Parse(req.String())
		require.Nil(t, err)
		require.Equal(t, req, again)
	}
}

func TestCommandString(t *testing.T) {
	require.Equal(t, "list", List.String())
	require.Equal(t, "get", Get.String())
	require.Equal(t, "-l", List.Directive())
	require.Equal(t, "-g", Get.Directive())
}
