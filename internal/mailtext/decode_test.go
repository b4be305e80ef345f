package mailtext

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeQuotedPrintable(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "普通文本不变", input: "Printer is broken", expected: "Printer is broken"},
		{name: "软换行被移除", input: "Hello=\r\nWorld=\nAgain", expected: "HelloWorldAgain"},
		{name: "软换行前的空白", input: "Hello= \t\r\nWorld", expected: "HelloWorld"},
		{name: "UTF-8 转义", input: "Caf=C3=A9", expected: "Café"},
		{name: "小写十六进制", input: "Caf=c3=a9", expected: "Café"},
		{name: "智能引号", input: "don=E2=80=99t", expected: "don’t"},
		{name: "破折号", input: "A =E2=80=93 B", expected: "A – B"},
		{name: "不换行空格", input: "a=C2=A0b", expected: "a\u00a0b"},
		{name: "非法 UTF-8 按 Latin-1 读取", input: "caf=E9", expected: "café"},
		{name: "非法转义保留", input: "a=ZZb", expected: "a=ZZb"},
		{name: "结尾的等号保留", input: "total=", expected: "total="},
		{name: "被误读的引号被还原", input: "don=C3=A2=C2=80=C2=99t", expected: "don’t"},
		{name: "等号转义", input: "a=3Db", expected: "a=b"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, DecodeQuotedPrintable(tc.input))
		})
	}
}

func TestDecodeQuotedPrintable_Idempotent(t *testing.T) {
	inputs := []string{
		"Caf=C3=A9 r=C3=A9sum=C3=A9",
		"line one=\r\nline two",
		"don=E2=80=99t =E2=80=93 ok",
	}
	for _, in := range inputs {
		once := DecodeQuotedPrintable(in)
		assert.Equal(t, once, DecodeQuotedPrintable(once), in)
	}
}

// 文本路径的往返只覆盖合法 UTF-8 输入
func TestQuotedPrintableRoundTrip(t *testing.T) {
	inputs := []string{
		"Caf=C3=A9",
		"The printer on floor 3 is broken =E2=80=93 please help",
		"Tab\there and line\r\nbreak",
		"=E4=BD=A0=E5=A5=BD",
		"a =3D b",
		"",
	}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			decoded := DecodeQuotedPrintable(in)
			assert.Equal(t, in, EncodeQuotedPrintable([]byte(decoded)))
		})
	}
}

func TestQuotedPrintableTransferRoundTrip(t *testing.T) {
	all := make([]byte, 256)
	for i := range all {
		all[i] = byte(i)
	}
	testCases := []struct {
		name string
		in   []byte
	}{
		{name: "Latin-1 字节", in: []byte("caf\xe9")},
		{name: "全部字节", in: all},
		{name: "等号与软换行形态", in: []byte("a=\r\nb= \nc=")},
		{name: "非法 UTF-8 序列", in: []byte{0xc3, 0x28, 0xa0, 0xa1, 0xff}},
		{name: "空输入", in: []byte{}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := DecodeTransfer(EncodeQuotedPrintable(tc.in), "quoted-printable")
			require.NoError(t, err)
			assert.Equal(t, tc.in, out)
		})
	}

	t.Run("非 UTF-8 字节经文本路径不能往返", func(t *testing.T) {
		assert.Equal(t, "caf=C3=A9", EncodeQuotedPrintable([]byte(DecodeQuotedPrintable("caf=E9"))))
	})
}

func FuzzQuotedPrintableTransfer(f *testing.F) {
	f.Add([]byte("Caf\xc3\xa9 =3D ok\r\n"))
	f.Add([]byte{0x00, 0x3d, 0x0d, 0x0a, 0xff})
	f.Fuzz(func(t *testing.T, in []byte) {
		out, err := DecodeTransfer(EncodeQuotedPrintable(in), "quoted-printable")
		require.NoError(t, err)
		assert.Equal(t, in, out)
	})
}

func TestDecodeBase64(t *testing.T) {
	t.Run("标准解码", func(t *testing.T) {
		out, err := DecodeBase64("SGVsbG8sIFdvcmxkIQ==")
		require.NoError(t, err)
		assert.Equal(t, "Hello, World!", string(out))
	})

	t.Run("忽略换行", func(t *testing.T) {
		out, err := DecodeBase64("SGVsbG8s\r\nIFdvcmxk\r\nIQ==\r\n")
		require.NoError(t, err)
		assert.Equal(t, "Hello, World!", string(out))
	})

	t.Run("非法字母表返回 DecodeError", func(t *testing.T) {
		_, err := DecodeBase64("not*base64!")
		require.Error(t, err)
		var de *DecodeError
		require.True(t, errors.As(err, &de))
		assert.Equal(t, "base64", de.Encoding)
		assert.True(t, IsDecodeError(err))
	})

	t.Run("缺少填充返回 DecodeError", func(t *testing.T) {
		_, err := DecodeBase64("SGVsbG8")
		assert.True(t, IsDecodeError(err))
	})
}

func TestDecodeTransfer(t *testing.T) {
	out, err := DecodeTransfer("Caf=C3=A9", "Quoted-Printable")
	require.NoError(t, err)
	assert.Equal(t, "Café", string(out))

	out, err = DecodeTransfer("plain", "7bit")
	require.NoError(t, err)
	assert.Equal(t, "plain", string(out))

	_, err = DecodeTransfer("%%%", "base64")
	assert.True(t, IsDecodeError(err))
}

func TestDecodeCharset(t *testing.T) {
	t.Run("ISO-8859-1", func(t *testing.T) {
		assert.Equal(t, "café", DecodeCharset([]byte{'c', 'a', 'f', 0xe9}, "iso-8859-1"))
	})

	t.Run("GBK", func(t *testing.T) {
		assert.Equal(t, "你好", DecodeCharset([]byte{0xc4, 0xe3, 0xba, 0xc3}, "GBK"))
	})

	t.Run("未知字符集按 UTF-8", func(t *testing.T) {
		assert.Equal(t, "héllo", DecodeCharset([]byte("héllo"), "x-unknown"))
	})
}

func TestDecodeHeader(t *testing.T) {
	assert.Equal(t, "[TICKET] Café broken", DecodeHeader("=?UTF-8?Q?[TICKET]_Caf=C3=A9_broken?="))
	assert.Equal(t, "你好", DecodeHeader("=?UTF-8?B?5L2g5aW9?="))
	assert.Equal(t, "plain subject", DecodeHeader("plain subject"))
}
