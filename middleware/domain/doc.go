// Package domain define contratos e tipos de domínio do gateway de acesso a assets:
// rate limit (janela fixa e token bucket), idempotência, tokens de acesso assinados,
// verificação de origem e os colaboradores externos (assets e object storage).
//
// Este pacote não depende de net/http nem de implementações concretas.
// A intenção é permitir testes de unidade puros e desacoplar regras de negócio
// de detalhes de infraestrutura.
package domain
