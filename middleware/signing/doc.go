// Package signing implementa a primitiva HMAC-SHA256 sobre uma tupla ordenada de campos.
//
// Os campos são canonicalizados com prefixo de tamanho (8 bytes big-endian + bytes),
// então nenhuma escolha de valores consegue produzir a mesma string canônica para
// tuplas diferentes. A assinatura é codificada em base64url sem padding.
package signing
