package sqlinline

const QInsertAuditLog = `--sql 18c21a1c-e1bf-4c81-b4f3-a72de2277729
insert into audit_logs (id, actor, action, entity, entity_id, ip, country, details)
values ($1::text, $2::text, $3::text, $4::text, $5::text, $6::text, $7::text, $8::jsonb)
returning created_at;
`
