package sqlinline

// QDeductCredits only matches when the balance covers the amount.
const QDeductCredits = `--sql 1b8b30f3-d4e2-44d3-af0b-97a40cdc68db
update users
set credits = credits - $2::int
where id = $1::text
  and credits >= $2::int
returning credits;
`

const QAddCredits = `--sql 28327704-46ba-456e-a5cc-d2ffcfee8d7b
update users
set credits = credits + $2::int
where id = $1::text
returning credits;
`

const QInsertCreditTransaction = `--sql 9e3ea921-6f9d-4855-9afe-fd3f01a7a14a
insert into credit_transactions (id, user_id, amount, type, description, edit_id, job_id)
values ($1::text, $2::text, $3::int, $4::text, $5::text, nullif($6::text, ''), nullif($7::text, ''));
`

// QInsertRefundOnce returns no row when this attempt of the job was already
// refunded.
const QInsertRefundOnce = `--sql 3166faee-22c1-4a22-90dc-5c83b0152661
insert into credit_transactions (id, user_id, amount, type, description, edit_id, job_id, attempt)
values ($1::text, $2::text, $3::int, 'refund', $4::text, nullif($5::text, ''), $6::text, $7::int)
on conflict (job_id, attempt) where type = 'refund' do nothing
returning id;
`

const QSelectRefundExists = `--sql b0eb67f0-ded3-4d79-9370-08d82fcb081f
select exists (
    select 1
    from credit_transactions
    where job_id = $1::text
      and attempt = $2::int
      and type = 'refund'
);
`

// QInsertRetryCharge logs the charge taken again when a refunded job is
// retried. It belongs to the attempt the retry starts.
const QInsertRetryCharge = `--sql c2d199e8-ec32-44f9-adb0-a93a0163080f
insert into credit_transactions (id, user_id, amount, type, description, edit_id, job_id, attempt)
values ($1::text, $2::text, $3::int, 'usage', $4::text, nullif($5::text, ''), $6::text, $7::int);
`

const QSelectCreditBalance = `--sql e27982c1-b95e-4bf8-8ed8-a34de088ca98
select credits
from users
where id = $1::text;
`

const QListCreditTransactions = `--sql 1814e094-7fc2-47a2-8b78-2001ec0f89cd
select id, user_id, amount, type, description, coalesce(edit_id, ''), coalesce(job_id, ''), created_at
from credit_transactions
where user_id = $1::text
order by created_at desc, id desc
limit $2::int;
`
